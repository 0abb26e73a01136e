package discord

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ora-bot/backend/internal/voice"
	"ora-bot/backend/pkg/logger"
)

const voiceAnswerPrompt = "あなたは音声アシスタントのORAです。質問に短く簡潔な日本語で答えてください。"

// ProgressStore reports whether search progress should be spoken for a user.
type ProgressStore interface {
	GetSearchProgress(ctx context.Context, userID string) (bool, error)
}

// Speaker plays synthesized speech to the user's voice channel.
type Speaker interface {
	Speak(ctx context.Context, guildID, userID, text string) bool
}

// HotwordConsumer answers wake-phrase commands: it searches the web, asks
// the LLM to compose a spoken answer and plays it back.
type HotwordConsumer struct {
	store   ProgressStore
	llm     Chatter
	search  Searcher
	speaker Speaker
	logger  *zap.Logger
}

// NewHotwordConsumer creates the consumer; register its Handle method with
// the voice manager.
func NewHotwordConsumer(store ProgressStore, llm Chatter, search Searcher, speaker Speaker) *HotwordConsumer {
	return &HotwordConsumer{
		store:   store,
		llm:     llm,
		search:  search,
		speaker: speaker,
		logger:  logger.Get(),
	}
}

// Handle processes one detected wake-phrase command.
func (c *HotwordConsumer) Handle(ctx context.Context, sp voice.Speaker, command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		c.speak(ctx, sp, "はい、何をお調べしますか?")
		return
	}

	c.logger.Info("Hotword command received",
		zap.String("guild_id", sp.GuildID),
		zap.String("user_id", sp.UserID),
		zap.String("command", command),
	)

	if c.progressEnabled(ctx, sp.UserID) {
		c.speak(ctx, sp, fmt.Sprintf("「%s」について調べています。", command))
	}

	answer := c.answer(ctx, command)
	if answer == "" {
		answer = "すみません、うまく調べられませんでした。"
	}
	c.speak(ctx, sp, answer)
}

// answer builds the spoken reply: search results feed the LLM when
// available, otherwise the LLM answers directly.
func (c *HotwordConsumer) answer(ctx context.Context, command string) string {
	results, err := c.search.Search(ctx, command, 3)
	if err != nil {
		c.logger.Warn("Hotword search failed",
			zap.String("command", command),
			zap.Error(err),
		)
	}

	if len(results) > 0 {
		var sb strings.Builder
		fmt.Fprintf(&sb, "「%s」についての検索結果:\n", command)
		for idx, res := range results {
			fmt.Fprintf(&sb, "%d. %s\n", idx+1, res.Title)
		}
		sb.WriteString("この検索結果を踏まえて質問に答えてください。")

		reply, err := c.llm.Chat(ctx, voiceAnswerPrompt, sb.String())
		if err == nil {
			return reply
		}
		c.logger.Warn("Hotword LLM summarization failed", zap.Error(err))
		// Fall back to the top result title so the user still hears
		// something useful.
		return results[0].Title
	}

	reply, err := c.llm.Chat(ctx, voiceAnswerPrompt, command)
	if err != nil {
		c.logger.Error("Hotword LLM answer failed",
			zap.String("command", command),
			zap.Error(err),
		)
		return ""
	}
	return reply
}

func (c *HotwordConsumer) progressEnabled(ctx context.Context, userID string) bool {
	speak, err := c.store.GetSearchProgress(ctx, userID)
	if err != nil {
		c.logger.Warn("Failed to resolve search progress flag", zap.Error(err))
		return true
	}
	return speak
}

func (c *HotwordConsumer) speak(ctx context.Context, sp voice.Speaker, text string) {
	if !c.speaker.Speak(ctx, sp.GuildID, sp.UserID, text) {
		c.logger.Warn("Failed to speak hotword reply",
			zap.String("guild_id", sp.GuildID),
			zap.String("user_id", sp.UserID),
		)
	}
}
