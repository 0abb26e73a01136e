package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeDiscord represents Discord-related errors
	ErrorTypeDiscord ErrorType = "discord"
	// ErrorTypeVoice represents voice pipeline errors
	ErrorTypeVoice ErrorType = "voice"
	// ErrorTypeSTT represents speech-to-text errors
	ErrorTypeSTT ErrorType = "stt"
	// ErrorTypeTTS represents speech synthesis errors
	ErrorTypeTTS ErrorType = "tts"
	// ErrorTypeLLM represents LLM-related errors
	ErrorTypeLLM ErrorType = "llm"
	// ErrorTypeSearch represents web search errors
	ErrorTypeSearch ErrorType = "search"
	// ErrorTypeStore represents persistence errors
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Voice errors

// ErrVoiceUnavailable is returned when no voice connection can be established
var ErrVoiceUnavailable = NewBaseError(ErrorTypeVoice, "voice connection unavailable", nil)

// ErrVoiceConnectFailed is returned when joining or moving a voice channel fails
type ErrVoiceConnectFailed struct {
	*BaseError
	GuildID   string
	ChannelID string
}

func NewVoiceConnectFailed(guildID, channelID string, err error) *ErrVoiceConnectFailed {
	return &ErrVoiceConnectFailed{
		BaseError: NewBaseError(ErrorTypeVoice, fmt.Sprintf("failed to connect to channel %s", channelID), err),
		GuildID:   guildID,
		ChannelID: channelID,
	}
}

// STT errors

// ErrTranscriptionFailed is returned when the transcription backend fails
type ErrTranscriptionFailed struct {
	*BaseError
	StatusCode int
}

func NewTranscriptionFailed(statusCode int, err error) *ErrTranscriptionFailed {
	return &ErrTranscriptionFailed{
		BaseError:  NewBaseError(ErrorTypeSTT, "transcription failed", err),
		StatusCode: statusCode,
	}
}

// TTS errors

// ErrEmptySpeechText is returned when synthesis is requested for empty text
var ErrEmptySpeechText = NewBaseError(ErrorTypeTTS, "speech text is empty", nil)

// ErrSynthesisFailed is returned when the synthesis backend fails
type ErrSynthesisFailed struct {
	*BaseError
	StatusCode int
}

func NewSynthesisFailed(statusCode int, err error) *ErrSynthesisFailed {
	return &ErrSynthesisFailed{
		BaseError:  NewBaseError(ErrorTypeTTS, "synthesis failed", err),
		StatusCode: statusCode,
	}
}

// LLM errors

// ErrLLMRequestFailed is returned when the chat completion request fails
type ErrLLMRequestFailed struct {
	*BaseError
	Model string
}

func NewLLMRequestFailed(model string, err error) *ErrLLMRequestFailed {
	return &ErrLLMRequestFailed{
		BaseError: NewBaseError(ErrorTypeLLM, fmt.Sprintf("chat completion failed for model %s", model), err),
		Model:     model,
	}
}

// ErrLLMEmptyResponse is returned when the LLM response has no choices
var ErrLLMEmptyResponse = NewBaseError(ErrorTypeLLM, "no choices in LLM response", nil)

// Search errors

// ErrSearchFailed is returned when a web search fails
type ErrSearchFailed struct {
	*BaseError
	Query string
}

func NewSearchFailed(query string, err error) *ErrSearchFailed {
	return &ErrSearchFailed{
		BaseError: NewBaseError(ErrorTypeSearch, fmt.Sprintf("search failed for %q", query), err),
		Query:     query,
	}
}

// Store errors

// ErrStoreQueryFailed is returned when a repository query fails
type ErrStoreQueryFailed struct {
	*BaseError
	Operation string
}

func NewStoreQueryFailed(operation string, err error) *ErrStoreQueryFailed {
	return &ErrStoreQueryFailed{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("store operation %s failed", operation), err),
		Operation: operation,
	}
}

// ErrLoginStateInvalid is returned when a login state is unknown or expired
var ErrLoginStateInvalid = NewBaseError(ErrorTypeStore, "login state unknown or expired", nil)
