package main

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"

	"ora-bot/backend/pkg/config"
)

func TestRequiredIntents(t *testing.T) {
	intents := requiredIntents()
	assert.NotZero(t, intents&discordgo.IntentsGuilds, "guilds intent required")
	assert.NotZero(t, intents&discordgo.IntentsGuildVoiceStates, "voice states intent required for voice tracking")
}

func TestVoiceOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		WakePhrase:    "orallm",
		VADThreshold:  0.02,
		ChunkDuration: 3 * time.Second,
		IdleTimeout:   120 * time.Second,
		IdlePoll:      15 * time.Second,
	}

	opts := voiceOptions(cfg)
	assert.Equal(t, "orallm", opts.WakePhrase)
	assert.Equal(t, 0.02, opts.VADThreshold)
	assert.Equal(t, 3*time.Second, opts.ChunkDuration)
	assert.Equal(t, 120*time.Second, opts.IdleTimeout)
	assert.Equal(t, 15*time.Second, opts.IdlePoll)
}
