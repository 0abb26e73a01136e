package discord

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ora-bot/backend/internal/adapter"
	"ora-bot/backend/internal/voice"
)

type fakeSpeaker struct {
	texts []string
	ok    bool
}

func (f *fakeSpeaker) Speak(_ context.Context, _, _, text string) bool {
	f.texts = append(f.texts, text)
	return f.ok
}

func newConsumerFixture() (*HotwordConsumer, *fakeStore, *fakeChatter, *fakeSearcher, *fakeSpeaker) {
	st := &fakeStore{searchProgress: true}
	llm := &fakeChatter{reply: "晴れです。"}
	search := &fakeSearcher{}
	speaker := &fakeSpeaker{ok: true}
	return NewHotwordConsumer(st, llm, search, speaker), st, llm, search, speaker
}

func testSpeaker() voice.Speaker {
	return voice.Speaker{GuildID: "guild-1", UserID: "user-1"}
}

func TestHotwordEmptyCommandPrompts(t *testing.T) {
	consumer, _, llm, search, speaker := newConsumerFixture()

	consumer.Handle(context.Background(), testSpeaker(), "  ")

	if len(speaker.texts) != 1 || speaker.texts[0] != "はい、何をお調べしますか?" {
		t.Errorf("Unexpected spoken texts %v", speaker.texts)
	}
	if len(llm.prompts) != 0 || len(search.queries) != 0 {
		t.Error("Empty command must not trigger search or LLM")
	}
}

func TestHotwordSpeaksProgressThenAnswer(t *testing.T) {
	consumer, _, _, search, speaker := newConsumerFixture()
	search.results = []adapter.SearchResult{{Title: "今日の天気", URL: "https://example.com"}}

	consumer.Handle(context.Background(), testSpeaker(), "天気")

	if len(speaker.texts) != 2 {
		t.Fatalf("Expected progress notice and answer, got %v", speaker.texts)
	}
	if speaker.texts[0] != "「天気」について調べています。" {
		t.Errorf("Unexpected progress notice %q", speaker.texts[0])
	}
	if speaker.texts[1] != "晴れです。" {
		t.Errorf("Unexpected answer %q", speaker.texts[1])
	}
}

func TestHotwordProgressSuppressed(t *testing.T) {
	consumer, st, _, search, speaker := newConsumerFixture()
	st.searchProgress = false
	search.results = []adapter.SearchResult{{Title: "今日の天気", URL: "https://example.com"}}

	consumer.Handle(context.Background(), testSpeaker(), "天気")

	if len(speaker.texts) != 1 {
		t.Fatalf("Expected answer only, got %v", speaker.texts)
	}
	if speaker.texts[0] != "晴れです。" {
		t.Errorf("Unexpected answer %q", speaker.texts[0])
	}
}

func TestHotwordSearchResultsFeedLLM(t *testing.T) {
	consumer, st, llm, search, _ := newConsumerFixture()
	st.searchProgress = false
	search.results = []adapter.SearchResult{
		{Title: "今日の天気", URL: "https://example.com"},
		{Title: "週間予報", URL: "https://example.org"},
	}

	consumer.Handle(context.Background(), testSpeaker(), "天気")

	if len(llm.prompts) != 1 {
		t.Fatalf("Expected one LLM call, got %d", len(llm.prompts))
	}
	prompt := llm.prompts[0]
	if !strings.Contains(prompt, "今日の天気") || !strings.Contains(prompt, "週間予報") {
		t.Errorf("Search results missing from LLM prompt: %q", prompt)
	}
}

func TestHotwordFallsBackToLLMWithoutResults(t *testing.T) {
	consumer, st, llm, search, speaker := newConsumerFixture()
	st.searchProgress = false
	search.err = errors.New("search down")

	consumer.Handle(context.Background(), testSpeaker(), "天気")

	if len(llm.prompts) != 1 || llm.prompts[0] != "天気" {
		t.Errorf("Expected direct LLM answer, got prompts %v", llm.prompts)
	}
	if len(speaker.texts) != 1 || speaker.texts[0] != "晴れです。" {
		t.Errorf("Unexpected spoken texts %v", speaker.texts)
	}
}

func TestHotwordFallsBackToTopTitle(t *testing.T) {
	consumer, st, llm, search, speaker := newConsumerFixture()
	st.searchProgress = false
	llm.err = errors.New("model offline")
	search.results = []adapter.SearchResult{{Title: "今日の天気", URL: "https://example.com"}}

	consumer.Handle(context.Background(), testSpeaker(), "天気")

	if len(speaker.texts) != 1 || speaker.texts[0] != "今日の天気" {
		t.Errorf("Expected top result title fallback, got %v", speaker.texts)
	}
}

func TestHotwordApologyWhenEverythingFails(t *testing.T) {
	consumer, st, llm, search, speaker := newConsumerFixture()
	st.searchProgress = false
	llm.err = errors.New("model offline")
	search.err = errors.New("search down")

	consumer.Handle(context.Background(), testSpeaker(), "天気")

	if len(speaker.texts) != 1 || speaker.texts[0] != "すみません、うまく調べられませんでした。" {
		t.Errorf("Expected apology, got %v", speaker.texts)
	}
}

func TestHotwordProgressDefaultsOnError(t *testing.T) {
	consumer, st, _, search, speaker := newConsumerFixture()
	st.progressErr = errors.New("db down")
	search.results = []adapter.SearchResult{{Title: "今日の天気", URL: "https://example.com"}}

	consumer.Handle(context.Background(), testSpeaker(), "天気")

	if len(speaker.texts) != 2 {
		t.Errorf("Flag lookup failure must default to speaking progress, got %v", speaker.texts)
	}
}
