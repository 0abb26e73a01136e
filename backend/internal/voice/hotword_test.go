package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeTranscriber returns a fixed transcript, optionally blocking until
// released so overlap behavior can be observed.
type fakeTranscriber struct {
	mu         sync.Mutex
	transcript string
	err        error
	calls      int
	block      chan struct{} // when non-nil, Transcribe waits on it
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (string, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.transcript, f.err
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordedCommand struct {
	speaker Speaker
	command string
}

func newTestListener(stt Transcriber) (*HotwordListener, *[]recordedCommand, *sync.Mutex) {
	listener := NewHotwordListener(stt, "orallm", zap.NewNop())
	var mu sync.Mutex
	commands := &[]recordedCommand{}
	listener.SetCallback(func(ctx context.Context, speaker Speaker, command string) {
		mu.Lock()
		*commands = append(*commands, recordedCommand{speaker, command})
		mu.Unlock()
	})
	return listener, commands, &mu
}

func TestHotwordCommandExtraction(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		want       string
		dispatched bool
	}{
		{"wake phrase with query suffix", "Orallm 天気を調べて", "天気", true},
		{"wake phrase mid-sentence", "ねえ ORALLM 明日の予定を教えて", "明日の予定", true},
		{"plain command", "orallm hello world", "hello world", true},
		{"no wake phrase", "今日はいい天気ですね", "", false},
		{"wake phrase alone", "orallm", "", false},
		{"wake phrase with only suffix", "orallm 調べて", "", false},
		{"empty transcript", "", "", false},
	}

	speaker := Speaker{GuildID: "g1", UserID: "u1"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listener, commands, mu := newTestListener(&fakeTranscriber{transcript: tt.transcript})
			listener.Process(speaker, []byte{1, 2, 3, 4})

			mu.Lock()
			defer mu.Unlock()
			if !tt.dispatched {
				if len(*commands) != 0 {
					t.Fatalf("Expected no dispatch, got %v", *commands)
				}
				return
			}
			if len(*commands) != 1 {
				t.Fatalf("Expected one dispatch, got %d", len(*commands))
			}
			if got := (*commands)[0].command; got != tt.want {
				t.Errorf("Expected command %q, got %q", tt.want, got)
			}
			if (*commands)[0].speaker != speaker {
				t.Errorf("Expected speaker %v, got %v", speaker, (*commands)[0].speaker)
			}
		})
	}
}

func TestHotwordTranscriptionFailure(t *testing.T) {
	listener, commands, mu := newTestListener(&fakeTranscriber{err: errors.New("backend down")})
	listener.Process(Speaker{GuildID: "g1", UserID: "u1"}, []byte{1, 2})

	mu.Lock()
	defer mu.Unlock()
	if len(*commands) != 0 {
		t.Errorf("Expected no dispatch after transcription failure, got %v", *commands)
	}
}

func TestHotwordDropsOverlappingChunks(t *testing.T) {
	stt := &fakeTranscriber{transcript: "orallm テスト", block: make(chan struct{})}
	listener, commands, mu := newTestListener(stt)
	speaker := Speaker{GuildID: "g1", UserID: "u1"}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		listener.Process(speaker, []byte{1})
	}()

	// Wait until the first call is inside Transcribe.
	deadline := time.Now().Add(time.Second)
	for stt.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// Second chunk for the same speaker must be dropped without transcribing.
	listener.Process(speaker, []byte{2})
	if got := stt.callCount(); got != 1 {
		t.Errorf("Expected 1 transcription call, got %d", got)
	}

	close(stt.block)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(*commands) != 1 {
		t.Errorf("Expected exactly one callback for overlapping submissions, got %d", len(*commands))
	}
}

func TestHotwordCallbackReplacement(t *testing.T) {
	listener := NewHotwordListener(&fakeTranscriber{transcript: "orallm ping"}, "orallm", zap.NewNop())

	var first, second int
	listener.SetCallback(func(ctx context.Context, speaker Speaker, command string) { first++ })
	listener.SetCallback(func(ctx context.Context, speaker Speaker, command string) { second++ })

	listener.Process(Speaker{GuildID: "g", UserID: "u"}, []byte{1})
	if first != 0 || second != 1 {
		t.Errorf("Expected last registration to win, got first=%d second=%d", first, second)
	}
}
