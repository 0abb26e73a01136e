package voice

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Watchdog disconnects voice connections that have seen no capture or
// playback activity for the configured timeout. One poll goroutine runs per
// connection while it is armed; marking activity while the goroutine is
// alive only bumps the timestamp.
type Watchdog struct {
	pollInterval time.Duration
	timeout      time.Duration
	lookup       func(guildID string) (Conn, bool)
	disconnect   func(guildID string)

	mu           sync.Mutex
	lastActivity map[string]time.Time
	armed        map[string]bool

	logger *zap.Logger
}

// NewWatchdog creates an idle watchdog. lookup reports whether a guild
// still has a live connection; disconnect tears it down.
func NewWatchdog(pollInterval, timeout time.Duration, lookup func(string) (Conn, bool), disconnect func(string), logger *zap.Logger) *Watchdog {
	return &Watchdog{
		pollInterval: pollInterval,
		timeout:      timeout,
		lookup:       lookup,
		disconnect:   disconnect,
		lastActivity: make(map[string]time.Time),
		armed:        make(map[string]bool),
		logger:       logger,
	}
}

// MarkActivity records activity for a guild and arms a watchdog task if
// none is currently alive for it.
func (w *Watchdog) MarkActivity(guildID string) {
	w.mu.Lock()
	w.lastActivity[guildID] = time.Now()
	start := !w.armed[guildID]
	if start {
		w.armed[guildID] = true
	}
	w.mu.Unlock()

	if start {
		go w.run(guildID)
	}
}

// LastActivity returns the recorded last-activity time for a guild.
func (w *Watchdog) LastActivity(guildID string) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.lastActivity[guildID]
	return t, ok
}

// Forget drops all watchdog state for a guild after an explicit disconnect.
// A still-running task notices the missing connection on its next tick.
func (w *Watchdog) Forget(guildID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.lastActivity, guildID)
}

func (w *Watchdog) run(guildID string) {
	defer w.disarm(guildID)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if _, ok := w.lookup(guildID); !ok {
			// Connection already gone; nothing to disconnect.
			return
		}

		w.mu.Lock()
		last, ok := w.lastActivity[guildID]
		w.mu.Unlock()
		if !ok {
			return
		}

		if elapsed := time.Since(last); elapsed >= w.timeout {
			w.logger.Info("Voice connection idle, disconnecting",
				zap.String("guild_id", guildID),
				zap.Duration("idle", elapsed),
			)
			w.disconnect(guildID)
			return
		}
	}
}

func (w *Watchdog) disarm(guildID string) {
	w.mu.Lock()
	w.armed[guildID] = false
	w.mu.Unlock()
}
