package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ElevenLabsNarrator implements Narrator against the ElevenLabs v1 API.
// An empty API key leaves the narrator unconfigured: synthesis fails with
// ErrProviderUnavailable and ListVoices serves the fallback catalogue.
type ElevenLabsNarrator struct {
	baseURL    string
	apiKey     string
	modelID    string
	httpClient *http.Client
}

// NewElevenLabsNarrator builds the narrator. baseURL defaults to the hosted
// API when empty.
func NewElevenLabsNarrator(baseURL, apiKey string) *ElevenLabsNarrator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io/v1"
	}
	return &ElevenLabsNarrator{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		modelID: "eleven_monolingual_v1",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type elevenVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type elevenSpeechRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	VoiceSettings elevenVoiceSettings `json:"voice_settings"`
}

// SynthesizeSpeech implements Narrator.
func (n *ElevenLabsNarrator) SynthesizeSpeech(ctx context.Context, text, voiceID string, settings map[string]float64) ([]byte, error) {
	if n.apiKey == "" {
		return nil, ErrProviderUnavailable
	}
	vs := elevenVoiceSettings{
		Stability:       settingOr(settings, "stability", 0.5),
		SimilarityBoost: settingOr(settings, "similarity_boost", 0.5),
		Style:           settingOr(settings, "style", 0.0),
		UseSpeakerBoost: true,
	}
	body, err := json.Marshal(elevenSpeechRequest{Text: text, ModelID: n.modelID, VoiceSettings: vs})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/text-to-speech/%s", n.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", n.apiKey)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Detail != "" {
			return nil, fmt.Errorf("elevenlabs api error: %d - %s", resp.StatusCode, errResp.Detail)
		}
		return nil, fmt.Errorf("elevenlabs api error: %s", resp.Status)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio from elevenlabs api")
	}
	return audio, nil
}

// ListVoices implements Narrator. Any failure falls back to the built-in
// catalogue so the reader UI always has voices to offer.
func (n *ElevenLabsNarrator) ListVoices(ctx context.Context) ([]Voice, error) {
	if n.apiKey == "" {
		return FallbackVoices, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/voices", nil)
	if err != nil {
		return FallbackVoices, nil
	}
	req.Header.Set("xi-api-key", n.apiKey)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return FallbackVoices, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return FallbackVoices, nil
	}

	var listResp struct {
		Voices []struct {
			VoiceID     string `json:"voice_id"`
			Name        string `json:"name"`
			Category    string `json:"category"`
			Description string `json:"description"`
			PreviewURL  string `json:"preview_url"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return FallbackVoices, nil
	}
	voices := make([]Voice, 0, len(listResp.Voices))
	for _, v := range listResp.Voices {
		desc := v.Description
		if desc == "" {
			desc = v.Name + " voice"
		}
		voices = append(voices, Voice{
			ID:          v.VoiceID,
			Name:        v.Name,
			Category:    v.Category,
			Description: desc,
			PreviewURL:  v.PreviewURL,
		})
	}
	if len(voices) == 0 {
		return FallbackVoices, nil
	}
	return voices, nil
}

func settingOr(settings map[string]float64, key string, fallback float64) float64 {
	if settings == nil {
		return fallback
	}
	if v, ok := settings[key]; ok {
		return v
	}
	return fallback
}
