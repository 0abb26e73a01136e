package voice

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultPlaybackPoll = 250 * time.Millisecond

// Synthesizer converts text into a self-contained audio clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Playback serializes audio output per voice connection: at most one clip
// plays on a connection at a time, later Play calls block until the earlier
// clip finishes.
type Playback struct {
	tts          Synthesizer
	pollInterval time.Duration
	markActivity func(guildID string)

	mu    sync.Mutex
	locks map[string]*sync.Mutex // guildID -> playback lock

	logger *zap.Logger
}

// NewPlayback creates a playback serializer. markActivity is called when a
// clip starts and on every completion-poll tick so long clips don't trip
// the idle watchdog; it may be nil.
func NewPlayback(tts Synthesizer, markActivity func(string), logger *zap.Logger) *Playback {
	return &Playback{
		tts:          tts,
		pollInterval: defaultPlaybackPoll,
		markActivity: markActivity,
		locks:        make(map[string]*sync.Mutex),
		logger:       logger,
	}
}

// SetPollInterval overrides the completion-poll interval.
func (p *Playback) SetPollInterval(d time.Duration) {
	if d > 0 {
		p.pollInterval = d
	}
}

// Play synthesizes text and streams it to the connection, blocking until
// playback completes. It returns true only if playback started and ran to
// completion. Synthesis and playback failures are logged, never propagated.
func (p *Playback) Play(ctx context.Context, conn Conn, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	guildID := conn.GuildID()
	lock := p.lockFor(guildID)
	lock.Lock()
	defer lock.Unlock()

	audio, err := p.tts.Synthesize(ctx, text)
	if err != nil {
		p.logger.Warn("読み上げ音声の合成に失敗しました",
			zap.String("guild_id", guildID),
			zap.Error(err),
		)
		return false
	}

	tmp, err := os.CreateTemp("", "ora-tts-*.wav")
	if err != nil {
		p.logger.Error("Failed to create temp audio file", zap.Error(err))
		return false
	}
	path := tmp.Name()
	defer func() {
		if err := os.Remove(path); err != nil {
			p.logger.Warn("一時ファイルの削除に失敗しました",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}()

	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		p.logger.Error("Failed to write temp audio file", zap.String("path", path), zap.Error(err))
		return false
	}
	if err := tmp.Close(); err != nil {
		p.logger.Error("Failed to close temp audio file", zap.String("path", path), zap.Error(err))
		return false
	}

	p.mark(guildID)
	if err := conn.Play(ctx, path); err != nil {
		p.logger.Warn("音声の再生に失敗しました",
			zap.String("guild_id", guildID),
			zap.Error(err),
		)
		return false
	}

	for conn.Playing() {
		p.mark(guildID)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.pollInterval):
		}
	}

	return true
}

func (p *Playback) mark(guildID string) {
	if p.markActivity != nil {
		p.markActivity(guildID)
	}
}

func (p *Playback) lockFor(guildID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[guildID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[guildID] = lock
	}
	return lock
}
