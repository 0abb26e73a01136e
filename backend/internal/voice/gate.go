package voice

import (
	"encoding/binary"
	"math"
)

// ActivityGate decides whether a captured audio chunk contains speech worth
// transcribing. It uses RMS energy over the whole chunk, so silence and
// keyboard-level background noise never reach the transcription backend.
// The threshold should be tuned low: a chunk wrongly accepted only wastes a
// transcription call, while a chunk wrongly rejected loses a hotword.
type ActivityGate struct {
	threshold float64
}

// NewActivityGate creates a gate with the given RMS threshold in the
// normalized [0, 1] sample range.
func NewActivityGate(threshold float64) *ActivityGate {
	return &ActivityGate{threshold: threshold}
}

// IsSpeech reports whether the chunk of signed 16-bit little-endian PCM
// carries enough energy to be treated as speech.
func (g *ActivityGate) IsSpeech(pcm []byte) bool {
	return Energy(pcm) > g.threshold
}

// Energy calculates the RMS (Root Mean Square) energy of s16le PCM bytes,
// normalized to [0, 1].
func Energy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0.0
	}

	var sumSquares float64
	for i := 0; i < samples; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}

	return math.Sqrt(sumSquares / float64(samples))
}
