package voice

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FrameSink receives decoded PCM frames tagged with the resolved speaker.
// Implementations must not block: frames arrive at audio rate.
type FrameSink func(speaker Speaker, pcm []byte)

// Conn represents a live link to one voice channel.
type Conn interface {
	GuildID() string
	ChannelID() string
	// Move relocates the connection to another channel in the same guild.
	Move(channelID string) error
	// Listen attaches the capture sink. Attaching twice is a no-op.
	Listen(sink FrameSink) error
	Listening() bool
	// Play starts streaming the audio file and returns once streaming has
	// begun; Playing reports completion.
	Play(ctx context.Context, path string) error
	Playing() bool
	Disconnect() error
}

// Platform abstracts the chat platform's voice surface so the pipeline can
// be exercised without a live gateway.
type Platform interface {
	// UserChannelID returns the voice channel the user currently occupies,
	// or "" when they are not in any voice channel.
	UserChannelID(guildID, userID string) string
	Join(guildID, channelID string) (Conn, error)
}

// Options configures the voice pipeline.
type Options struct {
	WakePhrase    string
	VADThreshold  float64
	ChunkDuration time.Duration
	IdleTimeout   time.Duration
	IdlePoll      time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		WakePhrase:    "orallm",
		VADThreshold:  0.01,
		ChunkDuration: 2 * time.Second,
		IdleTimeout:   300 * time.Second,
		IdlePoll:      30 * time.Second,
	}
}

// Manager is the voice pipeline facade. It owns the per-guild connection
// registry and wires capture frames into the hotword path, playback
// requests into the serializer, and activity into the idle watchdog.
type Manager struct {
	platform Platform
	capture  *CaptureBuffer
	listener *HotwordListener
	playback *Playback
	watchdog *Watchdog

	mu    sync.Mutex
	conns map[string]Conn // guildID -> connection

	logger *zap.Logger
}

// NewManager assembles the voice pipeline.
func NewManager(platform Platform, stt Transcriber, tts Synthesizer, opts Options, logger *zap.Logger) *Manager {
	m := &Manager{
		platform: platform,
		conns:    make(map[string]Conn),
		logger:   logger,
	}

	m.watchdog = NewWatchdog(opts.IdlePoll, opts.IdleTimeout, m.Connection, m.Disconnect, logger)
	m.listener = NewHotwordListener(stt, opts.WakePhrase, logger)
	gate := NewActivityGate(opts.VADThreshold)
	m.capture = NewCaptureBuffer(ChunkSizeFor(opts.ChunkDuration), gate, m.listener, func(speaker Speaker) {
		m.watchdog.MarkActivity(speaker.GuildID)
	}, logger)
	m.playback = NewPlayback(tts, m.watchdog.MarkActivity, logger)

	return m
}

// SetHotwordCallback registers the single hotword consumer.
func (m *Manager) SetHotwordCallback(cb HotwordCallback) {
	m.listener.SetCallback(cb)
}

// Listener exposes the hotword listener for configuration.
func (m *Manager) Listener() *HotwordListener {
	return m.listener
}

// Playback exposes the playback serializer for configuration.
func (m *Manager) Playback() *Playback {
	return m.playback
}

// Connection returns the live connection for a guild, if any.
func (m *Manager) Connection(guildID string) (Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[guildID]
	return conn, ok
}

// EnsureConnection establishes, moves or reuses the guild's voice
// connection so it sits in the channel the user currently occupies, with
// the capture sink attached. It returns false when the user is not in a
// voice channel or when connecting fails; failures are logged, never
// propagated.
func (m *Manager) EnsureConnection(guildID, userID string) (Conn, bool) {
	channelID := m.platform.UserChannelID(guildID, userID)
	if channelID == "" {
		return nil, false
	}

	m.mu.Lock()
	conn, ok := m.conns[guildID]
	m.mu.Unlock()

	if ok {
		if conn.ChannelID() != channelID {
			if err := conn.Move(channelID); err != nil {
				m.logger.Warn("Failed to move voice connection",
					zap.String("guild_id", guildID),
					zap.String("channel_id", channelID),
					zap.Error(err),
				)
				return nil, false
			}
		}
		if !conn.Listening() {
			if err := conn.Listen(m.capture.Feed); err != nil {
				m.logger.Warn("Failed to attach capture sink",
					zap.String("guild_id", guildID),
					zap.Error(err),
				)
			}
		}
		m.watchdog.MarkActivity(guildID)
		return conn, true
	}

	joined, err := m.platform.Join(guildID, channelID)
	if err != nil {
		m.logger.Warn("Failed to join voice channel",
			zap.String("guild_id", guildID),
			zap.String("channel_id", channelID),
			zap.Error(err),
		)
		return nil, false
	}
	if err := joined.Listen(m.capture.Feed); err != nil {
		m.logger.Warn("Failed to attach capture sink",
			zap.String("guild_id", guildID),
			zap.Error(err),
		)
	}

	m.mu.Lock()
	if existing, raced := m.conns[guildID]; raced {
		// Another ensure won the join race; keep theirs.
		m.mu.Unlock()
		_ = joined.Disconnect()
		conn = existing
	} else {
		m.conns[guildID] = joined
		m.mu.Unlock()
		conn = joined
		m.logger.Info("Joined voice channel",
			zap.String("guild_id", guildID),
			zap.String("channel_id", channelID),
		)
	}

	m.watchdog.MarkActivity(guildID)
	return conn, true
}

// Speak ensures a connection to the user's channel and plays the
// synthesized text on it. Returns false uniformly for "no connection
// available" and "synthesis/playback failed".
func (m *Manager) Speak(ctx context.Context, guildID, userID, text string) bool {
	conn, ok := m.EnsureConnection(guildID, userID)
	if !ok {
		return false
	}
	return m.playback.Play(ctx, conn, text)
}

// Disconnect tears down the guild's voice connection and clears all
// per-speaker pipeline state for it.
func (m *Manager) Disconnect(guildID string) {
	m.mu.Lock()
	conn, ok := m.conns[guildID]
	delete(m.conns, guildID)
	m.mu.Unlock()

	if ok {
		if err := conn.Disconnect(); err != nil {
			m.logger.Warn("Voice disconnect failed",
				zap.String("guild_id", guildID),
				zap.Error(err),
			)
		}
		m.logger.Info("Left voice channel", zap.String("guild_id", guildID))
	}

	m.capture.ClearGuild(guildID)
	m.listener.ClearGuild(guildID)
	m.watchdog.Forget(guildID)
}

// DisconnectAll tears down every live connection; used at shutdown.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	guilds := make([]string, 0, len(m.conns))
	for guildID := range m.conns {
		guilds = append(guilds, guildID)
	}
	m.mu.Unlock()

	for _, guildID := range guilds {
		m.Disconnect(guildID)
	}
}
