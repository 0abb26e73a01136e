package voice

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

const testChunkSize = 320

func newTestCapture(stt *fakeTranscriber, onSpeech func(Speaker)) *CaptureBuffer {
	gate := NewActivityGate(0.01)
	listener := NewHotwordListener(stt, "orallm", zap.NewNop())
	return NewCaptureBuffer(testChunkSize, gate, listener, onSpeech, zap.NewNop())
}

func waitForCalls(t *testing.T, stt *fakeTranscriber, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for stt.callCount() < want && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := stt.callCount(); got != want {
		t.Fatalf("Expected %d transcription calls, got %d", want, got)
	}
}

func TestFeedBelowThreshold(t *testing.T) {
	stt := &fakeTranscriber{}
	capture := newTestCapture(stt, nil)
	speaker := Speaker{GuildID: "g1", UserID: "u1"}

	capture.Feed(speaker, loudPCM(testChunkSize-2, 8000))

	time.Sleep(20 * time.Millisecond)
	if got := stt.callCount(); got != 0 {
		t.Errorf("Expected no transcription below threshold, got %d calls", got)
	}
	if got := capture.BufferedLen(speaker); got != testChunkSize-2 {
		t.Errorf("Expected %d buffered bytes, got %d", testChunkSize-2, got)
	}
}

func TestFeedExactThreshold(t *testing.T) {
	stt := &fakeTranscriber{}
	capture := newTestCapture(stt, nil)
	speaker := Speaker{GuildID: "g1", UserID: "u1"}

	capture.Feed(speaker, loudPCM(testChunkSize, 8000))

	waitForCalls(t, stt, 1)
	if got := capture.BufferedLen(speaker); got != 0 {
		t.Errorf("Expected empty buffer after flush, got %d bytes", got)
	}
}

func TestFeedPreservesRemainder(t *testing.T) {
	stt := &fakeTranscriber{}
	capture := newTestCapture(stt, nil)
	speaker := Speaker{GuildID: "g1", UserID: "u1"}

	capture.Feed(speaker, loudPCM(testChunkSize+10, 8000))

	waitForCalls(t, stt, 1)
	if got := capture.BufferedLen(speaker); got != 10 {
		t.Errorf("Expected 10 remainder bytes, got %d", got)
	}
}

func TestFeedMultipleThresholdsCrossed(t *testing.T) {
	stt := &fakeTranscriber{}
	capture := newTestCapture(stt, nil)
	speaker := Speaker{GuildID: "g1", UserID: "u1"}

	capture.Feed(speaker, loudPCM(testChunkSize*3+4, 8000))

	waitForCalls(t, stt, 3)
	if got := capture.BufferedLen(speaker); got != 4 {
		t.Errorf("Expected 4 remainder bytes, got %d", got)
	}
}

func TestFeedSilentChunkNeverTranscribed(t *testing.T) {
	stt := &fakeTranscriber{}
	var activity int
	capture := newTestCapture(stt, func(Speaker) { activity++ })
	speaker := Speaker{GuildID: "g1", UserID: "u1"}

	// Two full chunks of silence: the gate must reject both.
	capture.Feed(speaker, make([]byte, testChunkSize*2))

	time.Sleep(20 * time.Millisecond)
	if got := stt.callCount(); got != 0 {
		t.Errorf("Expected zero transcription calls for silence, got %d", got)
	}
	if activity != 0 {
		t.Errorf("Expected no activity marks for silence, got %d", activity)
	}
}

func TestFeedMarksActivityOnSpeech(t *testing.T) {
	stt := &fakeTranscriber{}
	var marked []Speaker
	capture := newTestCapture(stt, func(s Speaker) { marked = append(marked, s) })
	speaker := Speaker{GuildID: "g1", UserID: "u1"}

	capture.Feed(speaker, loudPCM(testChunkSize, 8000))

	waitForCalls(t, stt, 1)
	if len(marked) != 1 || marked[0] != speaker {
		t.Errorf("Expected one activity mark for %v, got %v", speaker, marked)
	}
}

func TestFeedIgnoresEmptyAndUnresolved(t *testing.T) {
	stt := &fakeTranscriber{}
	capture := newTestCapture(stt, nil)

	capture.Feed(Speaker{GuildID: "g1", UserID: "u1"}, nil)
	capture.Feed(Speaker{GuildID: "g1"}, loudPCM(testChunkSize, 8000))

	time.Sleep(20 * time.Millisecond)
	if got := stt.callCount(); got != 0 {
		t.Errorf("Expected no transcription, got %d calls", got)
	}
}

func TestClearGuildDropsBuffers(t *testing.T) {
	stt := &fakeTranscriber{}
	capture := newTestCapture(stt, nil)
	speaker := Speaker{GuildID: "g1", UserID: "u1"}

	capture.Feed(speaker, loudPCM(100, 8000))
	capture.ClearGuild("g1")

	if got := capture.BufferedLen(speaker); got != 0 {
		t.Errorf("Expected cleared buffer, got %d bytes", got)
	}
}
