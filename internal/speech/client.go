package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
)

// Audio formats the transcription backend accepts. Inbound voice notes
// arrive as audio/ogg; the rest cover forwarded files.
var supportedAudioMimeTypes = map[string]bool{
	"audio/ogg":    true,
	"audio/amr":    true,
	"audio/amr-wb": true,
	"audio/flac":   true,
	"audio/mp3":    true,
	"audio/mpeg":   true,
	"audio/wav":    true,
	"audio/x-wav":  true,
}

// Client calls the speech backend for transcription (inbound voice notes)
// and synthesis (outbound audio replies).
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a speech services client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
	}
}

type transcribeRequest struct {
	AudioURL string `json:"audio_url"`
	MimeType string `json:"mime_type"`
	Language string `json:"language"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

type synthesizeRequest struct {
	Text            string `json:"text"`
	ConversationKey string `json:"conversation_key"`
	Language        string `json:"language"`
}

type synthesizeResponse struct {
	AudioURL string `json:"audio_url"`
}

// Transcribe converts a voice note to text. An unsupported audio format
// returns empty text without error; the message then flows through as plain
// media instead of failing the pipeline.
func (c *Client) Transcribe(ctx context.Context, audioURL, mimeType string) (string, error) {
	mainMimeType := strings.TrimSpace(strings.Split(mimeType, ";")[0])
	if !supportedAudioMimeTypes[mainMimeType] {
		logger.FromContext(ctx).Warn("Audio format not supported for transcription",
			zap.String("mime_type", mimeType))
		return "", nil
	}

	payload := transcribeRequest{AudioURL: audioURL, MimeType: mainMimeType, Language: "pt-BR"}
	var response transcribeResponse
	if err := c.do(ctx, "/transcribe", payload, &response); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Text), nil
}

// Synthesize converts reply text to an audio file and returns its URL.
// Emojis are stripped first so they are not read out loud.
func (c *Client) Synthesize(ctx context.Context, text, conversationKey string) (string, error) {
	payload := synthesizeRequest{
		Text:            removeEmojis(text),
		ConversationKey: conversationKey,
		Language:        "pt-BR",
	}
	var response synthesizeResponse
	if err := c.do(ctx, "/synthesize", payload, &response); err != nil {
		return "", err
	}
	return response.AudioURL, nil
}

func (c *Client) do(ctx context.Context, path string, payload, out interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal speech request: %w", apperrors.ErrBadRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", apperrors.ErrBadRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewRetryable(err, "speech request %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return apperrors.NewRetryable(fmt.Errorf("speech status %d", resp.StatusCode), "speech request %s", path)
		}
		return fmt.Errorf("speech request %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode speech response: %w", err)
	}
	return nil
}

// removeEmojis strips emoji and pictographic symbols from reply text.
func removeEmojis(text string) string {
	var cleaned strings.Builder
	cleaned.Grow(len(text))
	for _, r := range text {
		if isEmoji(r) {
			continue
		}
		cleaned.WriteRune(r)
	}
	return strings.TrimSpace(cleaned.String())
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r == 0x2B50, r == 0xFE0F, r == 0x200D:
		return true
	default:
		return false
	}
}
