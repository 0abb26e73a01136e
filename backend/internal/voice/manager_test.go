package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakePlatform tracks user voice-channel membership and counts joins.
type fakePlatform struct {
	mu       sync.Mutex
	channels map[Speaker]string // speaker -> channel the user occupies
	joins    int
	joinErr  error
	conns    []*fakeConn
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{channels: make(map[Speaker]string)}
}

func (p *fakePlatform) setUserChannel(guildID, userID, channelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[Speaker{GuildID: guildID, UserID: userID}] = channelID
}

func (p *fakePlatform) UserChannelID(guildID, userID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[Speaker{GuildID: guildID, UserID: userID}]
}

func (p *fakePlatform) Join(guildID, channelID string) (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joins++
	if p.joinErr != nil {
		return nil, p.joinErr
	}
	conn := &fakeConn{guildID: guildID, channelID: channelID, playDuration: 5 * time.Millisecond}
	p.conns = append(p.conns, conn)
	return conn, nil
}

func (p *fakePlatform) joinCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joins
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.IdlePoll = 10 * time.Millisecond
	opts.IdleTimeout = time.Hour
	return opts
}

func newTestManager(platform Platform) (*Manager, *fakeSynth) {
	synth := &fakeSynth{audio: []byte("wav")}
	m := NewManager(platform, &fakeTranscriber{}, synth, testOptions(), zap.NewNop())
	m.Playback().SetPollInterval(2 * time.Millisecond)
	return m, synth
}

func TestEnsureConnectionUnavailable(t *testing.T) {
	platform := newFakePlatform()
	m, _ := newTestManager(platform)

	if _, ok := m.EnsureConnection("g1", "u1"); ok {
		t.Error("Expected unavailable when user is not in a voice channel")
	}
	if platform.joinCount() != 0 {
		t.Error("No join must be attempted without a target channel")
	}
}

func TestEnsureConnectionIdempotent(t *testing.T) {
	platform := newFakePlatform()
	platform.setUserChannel("g1", "u1", "c1")
	m, _ := newTestManager(platform)

	conn1, ok := m.EnsureConnection("g1", "u1")
	if !ok {
		t.Fatal("Expected connection")
	}
	conn2, ok := m.EnsureConnection("g1", "u1")
	if !ok {
		t.Fatal("Expected connection on second ensure")
	}

	if conn1 != conn2 {
		t.Error("Expected the same connection to be reused")
	}
	if platform.joinCount() != 1 {
		t.Errorf("Expected exactly one join, got %d", platform.joinCount())
	}
	fc := platform.conns[0]
	fc.mu.Lock()
	moves := len(fc.moves)
	fc.mu.Unlock()
	if moves != 0 {
		t.Errorf("Expected zero moves for an already-correct connection, got %d", moves)
	}
	if !conn1.Listening() {
		t.Error("Expected capture sink to be attached")
	}
}

func TestEnsureConnectionMovesChannels(t *testing.T) {
	platform := newFakePlatform()
	platform.setUserChannel("g1", "u1", "c1")
	m, _ := newTestManager(platform)

	if _, ok := m.EnsureConnection("g1", "u1"); !ok {
		t.Fatal("Expected initial connection")
	}

	platform.setUserChannel("g1", "u1", "c2")
	conn, ok := m.EnsureConnection("g1", "u1")
	if !ok {
		t.Fatal("Expected connection after move")
	}

	if platform.joinCount() != 1 {
		t.Errorf("Expected move instead of re-join, got %d joins", platform.joinCount())
	}
	if conn.ChannelID() != "c2" {
		t.Errorf("Expected connection in c2, got %s", conn.ChannelID())
	}
}

func TestEnsureConnectionJoinFailure(t *testing.T) {
	platform := newFakePlatform()
	platform.setUserChannel("g1", "u1", "c1")
	platform.joinErr = errors.New("gateway error")
	m, _ := newTestManager(platform)

	if _, ok := m.EnsureConnection("g1", "u1"); ok {
		t.Error("Expected unavailable when join fails")
	}
	if _, ok := m.Connection("g1"); ok {
		t.Error("Failed join must not be registered")
	}
}

func TestSpeakComposesEnsureAndPlay(t *testing.T) {
	platform := newFakePlatform()
	platform.setUserChannel("g1", "u1", "c1")
	m, synth := newTestManager(platform)

	if !m.Speak(context.Background(), "g1", "u1", "こんにちは") {
		t.Fatal("Expected Speak to succeed")
	}
	if synth.callCount() != 1 {
		t.Errorf("Expected one synthesis call, got %d", synth.callCount())
	}
	fc := platform.conns[0]
	fc.mu.Lock()
	played := len(fc.playedPaths)
	fc.mu.Unlock()
	if played != 1 {
		t.Errorf("Expected one played clip, got %d", played)
	}
}

func TestSpeakUnavailable(t *testing.T) {
	platform := newFakePlatform()
	m, synth := newTestManager(platform)

	if m.Speak(context.Background(), "g1", "u1", "こんにちは") {
		t.Error("Expected Speak to fail without a voice channel")
	}
	if synth.callCount() != 0 {
		t.Error("Synthesis must not run without a connection")
	}
}

func TestDisconnectClearsState(t *testing.T) {
	platform := newFakePlatform()
	platform.setUserChannel("g1", "u1", "c1")
	m, _ := newTestManager(platform)

	if _, ok := m.EnsureConnection("g1", "u1"); !ok {
		t.Fatal("Expected connection")
	}

	m.Disconnect("g1")

	if _, ok := m.Connection("g1"); ok {
		t.Error("Expected connection to be removed")
	}
	fc := platform.conns[0]
	fc.mu.Lock()
	disconnected := fc.disconnected
	fc.mu.Unlock()
	if !disconnected {
		t.Error("Expected platform connection to be disconnected")
	}

	// A later ensure joins fresh.
	if _, ok := m.EnsureConnection("g1", "u1"); !ok {
		t.Fatal("Expected re-join after disconnect")
	}
	if platform.joinCount() != 2 {
		t.Errorf("Expected a second join, got %d", platform.joinCount())
	}
}
