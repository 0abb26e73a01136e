package voice

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Transcriber converts raw PCM audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (string, error)
}

// HotwordCallback receives the speaker and the command text that followed
// the wake phrase.
type HotwordCallback func(ctx context.Context, speaker Speaker, command string)

// DefaultCleanupPhrases are literal substrings removed from the command text
// after wake-phrase stripping, so "天気を調べて" dispatches as "天気".
// Longest phrases come first so shorter ones don't leave fragments behind.
var DefaultCleanupPhrases = []string{
	"について調べて",
	"を調べて",
	"調べて",
	"を検索して",
	"検索して",
	"を教えて",
	"教えて",
}

// HotwordListener consumes gated audio chunks, transcribes them and invokes
// the registered callback when the wake phrase is heard. At most one
// transcription per speaker is in flight: a chunk arriving while the
// speaker's previous chunk is still being transcribed is dropped, favoring
// freshness over completeness.
type HotwordListener struct {
	stt        Transcriber
	wakePhrase string

	mu         sync.Mutex
	processing map[Speaker]*sync.Mutex
	cleanup    []string
	callback   HotwordCallback

	logger *zap.Logger
}

// NewHotwordListener creates a listener for the given wake phrase.
func NewHotwordListener(stt Transcriber, wakePhrase string, logger *zap.Logger) *HotwordListener {
	return &HotwordListener{
		stt:        stt,
		wakePhrase: strings.ToLower(wakePhrase),
		processing: make(map[Speaker]*sync.Mutex),
		cleanup:    DefaultCleanupPhrases,
		logger:     logger,
	}
}

// SetCallback registers the single hotword consumer. The slot holds one
// callback; registering again replaces the previous one.
func (l *HotwordListener) SetCallback(cb HotwordCallback) {
	l.mu.Lock()
	l.callback = cb
	l.mu.Unlock()
}

// SetCleanupPhrases replaces the command cleanup table.
func (l *HotwordListener) SetCleanupPhrases(phrases []string) {
	l.mu.Lock()
	l.cleanup = phrases
	l.mu.Unlock()
}

// Process transcribes one chunk and dispatches the command it contains, if
// any. It is a no-op when a previous chunk for the same speaker is still
// being processed.
func (l *HotwordListener) Process(speaker Speaker, pcm []byte) {
	lock := l.lockFor(speaker)
	if !lock.TryLock() {
		// A transcription for this speaker is already in flight; drop.
		return
	}
	defer lock.Unlock()

	ctx := context.Background()
	transcript, err := l.stt.Transcribe(ctx, pcm, SampleRate, Channels)
	if err != nil {
		l.logger.Warn("音声認識に失敗しました",
			zap.String("guild_id", speaker.GuildID),
			zap.String("user_id", speaker.UserID),
			zap.Error(err),
		)
		return
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return
	}

	lower := strings.ToLower(transcript)
	idx := strings.Index(lower, l.wakePhrase)
	if idx < 0 {
		return
	}

	command := strings.TrimSpace(transcript[idx+len(l.wakePhrase):])
	command = l.cleanCommand(command)
	if command == "" {
		return
	}

	l.mu.Lock()
	cb := l.callback
	l.mu.Unlock()
	if cb == nil {
		return
	}

	l.logger.Info("Hotword command detected",
		zap.String("guild_id", speaker.GuildID),
		zap.String("user_id", speaker.UserID),
		zap.String("command", command),
	)
	cb(ctx, speaker, command)
}

// ClearGuild drops per-speaker processing state for a guild.
func (l *HotwordListener) ClearGuild(guildID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for speaker := range l.processing {
		if speaker.GuildID == guildID {
			delete(l.processing, speaker)
		}
	}
}

func (l *HotwordListener) lockFor(speaker Speaker) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.processing[speaker]
	if !ok {
		lock = &sync.Mutex{}
		l.processing[speaker] = lock
	}
	return lock
}

func (l *HotwordListener) cleanCommand(command string) string {
	l.mu.Lock()
	cleanup := l.cleanup
	l.mu.Unlock()

	for _, phrase := range cleanup {
		command = strings.ReplaceAll(command, phrase, "")
	}
	return strings.TrimSpace(command)
}
