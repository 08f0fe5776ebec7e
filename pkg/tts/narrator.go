package tts

import (
	"context"
	"errors"
)

// ErrProviderUnavailable is returned when no speech provider is configured
// or the configured one cannot be reached.
var ErrProviderUnavailable = errors.New("speech provider unavailable")

// Voice describes a narration voice offered by the provider.
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	PreviewURL  string `json:"previewUrl,omitempty"`
}

// Narrator converts chapter text to speech audio.
type Narrator interface {
	// SynthesizeSpeech renders text with the given voice and returns MP3
	// bytes. settings tunes provider-specific knobs such as stability and
	// similarity_boost; nil means provider defaults.
	SynthesizeSpeech(ctx context.Context, text, voiceID string, settings map[string]float64) ([]byte, error)
	ListVoices(ctx context.Context) ([]Voice, error)
}

// FallbackVoices is the built-in catalogue served when the provider is not
// configured or its voice listing fails.
var FallbackVoices = []Voice{
	{
		ID:          "EXAVITQu4vr4xnSDxMaL",
		Name:        "Sarah (Professional Female)",
		Category:    "premade",
		Description: "Professional, clear female voice perfect for narration",
	},
	{
		ID:          "VR6AewLTigWG4xSOukaG",
		Name:        "David (Professional Male)",
		Category:    "premade",
		Description: "Authoritative male voice with excellent clarity",
	},
	{
		ID:          "pNInz6obpgDQGcFmaJgB",
		Name:        "Emma (Conversational Female)",
		Category:    "premade",
		Description: "Warm, conversational female voice",
	},
	{
		ID:          "yoZ06aMxZJJ28mfd3POQ",
		Name:        "James (Conversational Male)",
		Category:    "premade",
		Description: "Friendly, approachable male voice",
	},
}
