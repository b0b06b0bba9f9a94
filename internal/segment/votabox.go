package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
)

// Client talks to the VotaBox contact-segmentation API. Campaign population
// queries it for the people matching a tag/survey filter.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	tenantID   string
}

// NewClient creates a VotaBox API client.
func NewClient(baseURL, apiKey, tenantID string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		tenantID:   tenantID,
	}
}

// Person is one segmentation-source record. A person may carry several
// phones; campaign population targets the first one. CustomFields feed
// template personalization (`custom.<key>` parameters).
type Person struct {
	ID           string            `json:"id"`
	FullName     string            `json:"full_name"`
	Phones       []string          `json:"phones"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]string `json:"custom_fields"`
}

// PrimaryPhone returns the person's first phone, or empty when none exist.
func (p Person) PrimaryPhone() string {
	if len(p.Phones) == 0 {
		return ""
	}
	return p.Phones[0]
}

// Tag is a segmentation tag.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Survey is a VotaBox survey whose answers can be used as segment filters.
type Survey struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// QuestionFilter matches people who gave a specific answer to a survey
// question.
type QuestionFilter struct {
	GUID   string `json:"guid"`
	Answer string `json:"answer"`
}

// SurveyFilter selects people by their answers within one survey.
type SurveyFilter struct {
	SurveyID  string           `json:"survey_id"`
	Questions []QuestionFilter `json:"questions"`
}

// SearchFilter is the segment search criteria: tag membership plus survey
// answers. Empty slices (not nil) are sent as-is, matching the API contract.
type SearchFilter struct {
	TagIDs  []string       `json:"tag_ids"`
	Surveys []SurveyFilter `json:"surveys"`
}

type peopleResponse struct {
	Data []Person `json:"data"`
}

type tagsResponse struct {
	Data []Tag `json:"data"`
}

type surveysResponse struct {
	Data []Survey `json:"data"`
}

// SearchPeople returns the people matching the given filter.
func (c *Client) SearchPeople(ctx context.Context, filter SearchFilter) ([]Person, error) {
	payload := map[string]interface{}{"filters": filter}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal search filter: %w", apperrors.ErrBadRequest, err)
	}

	var response peopleResponse
	if err := c.do(ctx, http.MethodPost, "/people/search", body, &response); err != nil {
		logger.FromContext(ctx).Error("Segment search failed", zap.Error(err))
		return nil, err
	}
	return response.Data, nil
}

// GetPeople returns the full people list.
func (c *Client) GetPeople(ctx context.Context) ([]Person, error) {
	var response peopleResponse
	if err := c.do(ctx, http.MethodGet, "/people", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetTags returns the segment-type tags.
func (c *Client) GetTags(ctx context.Context) ([]Tag, error) {
	var response tagsResponse
	if err := c.do(ctx, http.MethodGet, "/tags?type=Segment", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetSurveys returns the available surveys.
func (c *Client) GetSurveys(ctx context.Context) ([]Survey, error) {
	var response surveysResponse
	if err := c.do(ctx, http.MethodGet, "/surveys", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", apperrors.ErrBadRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewRetryable(err, "votabox request %s %s", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewRetryable(err, "read votabox response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 500:
		return apperrors.NewRetryable(fmt.Errorf("votabox status %d", resp.StatusCode), "votabox request %s %s", method, path)
	default:
		return fmt.Errorf("%w: votabox status %d: %s", apperrors.ErrBadRequest, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode votabox response: %w", err)
	}
	return nil
}
