package voice

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Audio format of frames arriving from the platform: Discord delivers
// 48kHz 16-bit stereo PCM after opus decoding.
const (
	SampleRate     = 48000
	Channels       = 2
	bytesPerSample = 2
)

// ChunkSizeFor returns the accumulator threshold in bytes that approximates
// the given wall-clock duration.
func ChunkSizeFor(d time.Duration) int {
	bytesPerSecond := SampleRate * Channels * bytesPerSample
	return int(d.Seconds() * float64(bytesPerSecond))
}

// Speaker identifies an audio source within one guild's voice connection.
type Speaker struct {
	GuildID string
	UserID  string
}

// CaptureBuffer accumulates raw PCM per speaker and cuts fixed-size chunks.
// Feed runs synchronously in the frame-receive path; everything downstream
// of the gate happens on a detached goroutine, so the receive loop is never
// blocked by transcription.
type CaptureBuffer struct {
	mu        sync.Mutex
	buffers   map[Speaker][]byte
	chunkSize int
	gate      *ActivityGate
	listener  *HotwordListener
	onSpeech  func(speaker Speaker) // activity hook, may be nil
	logger    *zap.Logger
}

// NewCaptureBuffer creates a capture buffer. onSpeech is invoked for every
// chunk the gate accepts, before the processing task is scheduled.
func NewCaptureBuffer(chunkSize int, gate *ActivityGate, listener *HotwordListener, onSpeech func(Speaker), logger *zap.Logger) *CaptureBuffer {
	return &CaptureBuffer{
		buffers:   make(map[Speaker][]byte),
		chunkSize: chunkSize,
		gate:      gate,
		listener:  listener,
		onSpeech:  onSpeech,
		logger:    logger,
	}
}

// Feed appends pcm to the speaker's accumulator. Every time the accumulator
// reaches the chunk size, exactly one chunk is cut and the remainder stays
// buffered for the next cycle. Accepted chunks are handed to the hotword
// listener on a fire-and-forget goroutine.
func (c *CaptureBuffer) Feed(speaker Speaker, pcm []byte) {
	if speaker.UserID == "" || len(pcm) == 0 {
		return
	}

	c.mu.Lock()
	buf := append(c.buffers[speaker], pcm...)
	var chunks [][]byte
	for len(buf) >= c.chunkSize {
		chunk := make([]byte, c.chunkSize)
		copy(chunk, buf[:c.chunkSize])
		buf = buf[c.chunkSize:]
		chunks = append(chunks, chunk)
	}
	c.buffers[speaker] = buf
	c.mu.Unlock()

	for _, chunk := range chunks {
		if !c.gate.IsSpeech(chunk) {
			continue
		}
		if c.onSpeech != nil {
			c.onSpeech(speaker)
		}
		go c.dispatch(speaker, chunk)
	}
}

// BufferedLen returns the number of bytes currently accumulated for a speaker.
func (c *CaptureBuffer) BufferedLen(speaker Speaker) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers[speaker])
}

// ClearGuild drops all accumulators belonging to a guild. Called when the
// guild's voice connection goes away so stale speaker entries don't pile up.
func (c *CaptureBuffer) ClearGuild(guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for speaker := range c.buffers {
		if speaker.GuildID == guildID {
			delete(c.buffers, speaker)
		}
	}
}

func (c *CaptureBuffer) dispatch(speaker Speaker, chunk []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic in voice chunk processing",
				zap.String("guild_id", speaker.GuildID),
				zap.String("user_id", speaker.UserID),
				zap.Any("panic", r),
			)
		}
	}()

	c.listener.Process(speaker, chunk)
}
