package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
)

const (
	analysisTemperature = 0.2
	responseTemperature = 0.7
	maxOutputTokens     = 2048
)

// Analysis is the classifier's verdict on one inbound user message. A nil
// *Analysis means the classifier produced nothing usable and the caller
// should fall back to a clarification reply.
type Analysis struct {
	Intent               string `json:"intent"`
	IsOffTopic           bool   `json:"is_off_topic"`
	ContainsPII          bool   `json:"contains_pii"`
	PIIType              string `json:"pii_type"`
	DetectedLocationCode string `json:"cep_detected"`
}

// Client calls a Gemini-style generative-language API for intent
// classification and free-text responses.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	model         string
	knowledgeBase string
}

// NewClient creates an AI client. knowledgeBase is the grounding document
// injected into response prompts; it may be empty.
func NewClient(baseURL, apiKey, model, knowledgeBase string, timeout time.Duration) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		apiKey:        apiKey,
		model:         model,
		knowledgeBase: knowledgeBase,
	}
}

// LoadKnowledgeBase reads the grounding document from disk. A missing file is
// not an error; responses simply run without grounding.
func LoadKnowledgeBase(path string) string {
	if path == "" {
		return ""
	}
	content, err := os.ReadFile(path)
	if err != nil {
		logger.Log.Warn("Knowledge base not loaded", zap.String("path", path), zap.Error(err))
		return ""
	}
	return string(content)
}

type generateRequest struct {
	GenerationConfig generationConfig `json:"generationConfig"`
	Contents         []content        `json:"contents"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Classify analyzes one user message in the context of the conversation
// history and current engine state. The model is told to answer with bare
// JSON but routinely wraps it in prose; the JSON object is cut out of the raw
// text before decoding. Unusable output returns (nil, nil) so the caller can
// degrade instead of failing.
func (c *Client) Classify(ctx context.Context, history, userMessage, currentState string) (*Analysis, error) {
	prompt := buildAnalysisPrompt(history, userMessage, currentState)
	raw, err := c.generate(ctx, prompt, analysisTemperature)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	jsonText := extractJSON(raw)
	if jsonText == "" {
		logger.FromContext(ctx).Warn("Classifier output carried no JSON object", zap.String("raw", raw))
		return nil, nil
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(jsonText), &analysis); err != nil {
		logger.FromContext(ctx).Warn("Classifier output not decodable", zap.String("raw", raw), zap.Error(err))
		return nil, nil
	}
	return &analysis, nil
}

// Respond generates a free-text answer to the user message, grounded on the
// knowledge base and conversation history.
func (c *Client) Respond(ctx context.Context, history, userMessage string) (string, error) {
	prompt := buildResponsePrompt(c.knowledgeBase, history, userMessage)
	return c.generate(ctx, prompt, responseTemperature)
}

func (c *Client) generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: ai api key not configured", apperrors.ErrBadRequest)
	}

	payload := generateRequest{
		GenerationConfig: generationConfig{Temperature: temperature, MaxOutputTokens: maxOutputTokens},
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal generate request: %w", apperrors.ErrBadRequest, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", apperrors.ErrBadRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.NewRetryable(err, "ai generate request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", apperrors.NewRetryable(fmt.Errorf("ai status %d", resp.StatusCode), "ai generate request")
		}
		return "", fmt.Errorf("ai generate request: status %d", resp.StatusCode)
	}

	var response generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode ai response: %w", err)
	}
	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return strings.TrimSpace(response.Candidates[0].Content.Parts[0].Text), nil
}

// extractJSON cuts the outermost JSON object out of surrounding prose.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}
