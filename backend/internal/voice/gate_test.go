package voice

import (
	"encoding/binary"
	"testing"
)

// loudPCM builds s16le PCM of the given byte length with a square wave well
// above any reasonable VAD threshold.
func loudPCM(n int, amplitude int16) []byte {
	out := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		sample := amplitude
		if (i/2)%2 == 0 {
			sample = -amplitude
		}
		binary.LittleEndian.PutUint16(out[i:], uint16(sample))
	}
	return out
}

func TestEnergySilence(t *testing.T) {
	silence := make([]byte, 9600)
	if e := Energy(silence); e != 0 {
		t.Errorf("Expected zero energy for silence, got %f", e)
	}
	if e := Energy(nil); e != 0 {
		t.Errorf("Expected zero energy for empty input, got %f", e)
	}
}

func TestEnergySquareWave(t *testing.T) {
	// A square wave of amplitude A has RMS exactly A/32768.
	pcm := loudPCM(9600, 16384)
	e := Energy(pcm)
	want := 0.5
	if e < want-0.01 || e > want+0.01 {
		t.Errorf("Expected RMS near %f, got %f", want, e)
	}
}

func TestActivityGate(t *testing.T) {
	gate := NewActivityGate(0.01)

	if gate.IsSpeech(make([]byte, 9600)) {
		t.Error("Silence should not pass the gate")
	}
	if !gate.IsSpeech(loudPCM(9600, 8000)) {
		t.Error("Loud audio should pass the gate")
	}
}
