package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// Discord
	DiscordBotToken string
	DiscordAppID    string
	DevGuildID      string // When set, slash commands sync to this guild only

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// LLM (OpenAI-compatible endpoint, e.g. LM Studio)
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	// ORA backend
	ORAAPIBaseURL string // Link-code backend; optional
	PublicBaseURL string // Public URL used for login links; optional

	// Voice services
	STTServiceURL string  // Whisper transcription service URL
	TTSBaseURL    string  // VOICEVOX base URL
	TTSSpeakerID  int     // VOICEVOX speaker ID
	WakePhrase    string  // Hotword that precedes spoken commands
	VADThreshold  float64 // Voice activity detection RMS threshold

	// Voice pipeline timing
	ChunkDuration time.Duration // Wall-clock length of one capture chunk
	IdleTimeout   time.Duration // Disconnect after this much voice inactivity
	IdlePoll      time.Duration // Idle watchdog poll interval

	// Behavior
	PrivacyDefault string // "private" or "public" reply visibility default
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", ""),
		DiscordBotToken: getEnv("DISCORD_BOT_TOKEN", ""),
		DiscordAppID:    getEnv("DISCORD_APP_ID", ""),
		DevGuildID:      getEnv("ORA_DEV_GUILD_ID", ""),
		Neo4jURI:        getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:       getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:   getEnv("NEO4J_PASSWORD", "password"),
		LLMBaseURL:      getEnv("LLM_BASE_URL", "http://127.0.0.1:1234/v1"),
		LLMAPIKey:       getEnv("LLM_API_KEY", "lm-studio"),
		LLMModel:        getEnv("LLM_MODEL", "openai/gpt-oss-20b"),
		ORAAPIBaseURL:   getEnv("ORA_API_BASE_URL", ""),
		PublicBaseURL:   getEnv("PUBLIC_BASE_URL", ""),
		STTServiceURL:   getEnv("STT_SERVICE_URL", "http://localhost:8001"),
		TTSBaseURL:      getEnv("TTS_BASE_URL", "http://localhost:50021"),
		TTSSpeakerID:    getEnvInt("TTS_SPEAKER_ID", 1),
		WakePhrase:      getEnv("WAKE_PHRASE", "orallm"),
		VADThreshold:    getEnvFloat("VAD_THRESHOLD", 0.01),
		ChunkDuration:   getEnvDuration("VOICE_CHUNK_DURATION", 2*time.Second),
		IdleTimeout:     getEnvDuration("VOICE_IDLE_TIMEOUT", 300*time.Second),
		IdlePoll:        getEnvDuration("VOICE_IDLE_POLL", 30*time.Second),
		PrivacyDefault:  getEnv("PRIVACY_DEFAULT", "private"),
	}

	if cfg.PrivacyDefault != "private" && cfg.PrivacyDefault != "public" {
		cfg.PrivacyDefault = "private"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.DiscordBotToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if c.Neo4jURI == "" {
		return fmt.Errorf("NEO4J_URI is required")
	}
	if c.LLMBaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL is required")
	}
	if c.LLMModel == "" {
		return fmt.Errorf("LLM_MODEL is required")
	}
	if c.WakePhrase == "" {
		return fmt.Errorf("WAKE_PHRASE must not be empty")
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("VOICE_CHUNK_DURATION must be positive")
	}
	if c.IdleTimeout <= 0 || c.IdlePoll <= 0 {
		return fmt.Errorf("voice idle timing values must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
