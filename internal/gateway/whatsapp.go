package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/observer"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
)

const (
	messagingProduct = "whatsapp"
	// Recipients without a country prefix get the Brazilian one.
	defaultCountryCode = "55"
	templateListLimit  = 100
)

// Client talks to the provider's Cloud API. Every call takes the acting
// account explicitly, so one client instance serves any number of provider
// accounts concurrently.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiVersion string
}

// NewClient creates a provider API client.
func NewClient(baseURL, apiVersion string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiVersion: apiVersion,
	}
}

// MediaInfo is the provider's metadata for an uploaded media object. The URL
// is temporary and must be fetched with the account token.
type MediaInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// Template is an approved outbound message template.
type Template struct {
	Name       string              `json:"name"`
	Language   string              `json:"language"`
	Status     string              `json:"status"`
	Category   string              `json:"category"`
	Components []TemplateComponent `json:"components"`
}

// TemplateComponent is one structural part of a template (header, body,
// footer or buttons).
type TemplateComponent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// graphError is the provider's error envelope.
type graphError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	TraceID      string `json:"fbtrace_id"`
}

type graphErrorResponse struct {
	Error *graphError `json:"error"`
}

type sendMessageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type templateListResponse struct {
	Data []Template `json:"data"`
}

// textBody is the payload body for plain text messages.
type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

// mediaBody is the payload body for link-based media messages.
type mediaBody struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outboundComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateBody struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []outboundComponent `json:"components,omitempty"`
}

// SendText sends a plain text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, account model.Account, to, body string) (string, error) {
	payload := map[string]interface{}{
		"messaging_product": messagingProduct,
		"to":                normalizePhone(to),
		"type":              string(model.TypeText),
		"text":              textBody{Body: body},
	}
	return c.sendMessagePayload(ctx, account, "send_text", payload)
}

// SendAudio sends a link-based audio message. Audio carries no caption.
func (c *Client) SendAudio(ctx context.Context, account model.Account, to, audioURL string) (string, error) {
	payload := map[string]interface{}{
		"messaging_product": messagingProduct,
		"to":                normalizePhone(to),
		"type":              string(model.TypeAudio),
		"audio":             mediaBody{Link: audioURL},
	}
	return c.sendMessagePayload(ctx, account, "send_audio", payload)
}

// SendMedia sends a link-based media message of the given type. Only image,
// video and document types accept a caption.
func (c *Client) SendMedia(ctx context.Context, account model.Account, to string, mediaType model.MessageType, mediaURL, caption string) (string, error) {
	var body mediaBody
	switch mediaType {
	case model.TypeImage, model.TypeVideo, model.TypeDocument:
		body = mediaBody{Link: mediaURL, Caption: caption}
	case model.TypeAudio, model.TypeSticker:
		body = mediaBody{Link: mediaURL}
	case model.TypeText, model.TypeLocation, model.TypeTemplate, model.TypeUnknown:
		return "", fmt.Errorf("%w: unsupported media type %q", apperrors.ErrBadRequest, mediaType)
	default:
		return "", fmt.Errorf("%w: unsupported media type %q", apperrors.ErrBadRequest, mediaType)
	}

	payload := map[string]interface{}{
		"messaging_product": messagingProduct,
		"to":                normalizePhone(to),
		"type":              string(mediaType),
		string(mediaType):   body,
	}
	return c.sendMessagePayload(ctx, account, "send_media", payload)
}

// SendTemplate sends a pre-approved template with positional body parameters.
func (c *Client) SendTemplate(ctx context.Context, account model.Account, to, templateName, language string, bodyParams []string) (string, error) {
	template := templateBody{
		Name:     templateName,
		Language: templateLanguage{Code: language},
	}
	if len(bodyParams) > 0 {
		parameters := make([]templateParameter, 0, len(bodyParams))
		for _, param := range bodyParams {
			parameters = append(parameters, templateParameter{Type: "text", Text: param})
		}
		template.Components = []outboundComponent{{Type: "body", Parameters: parameters}}
	}

	payload := map[string]interface{}{
		"messaging_product": messagingProduct,
		"to":                normalizePhone(to),
		"type":              string(model.TypeTemplate),
		"template":          template,
	}
	return c.sendMessagePayload(ctx, account, "send_template", payload)
}

// SendTypingIndicator marks the referenced inbound message as read and shows
// a typing indicator in the recipient's chat.
func (c *Client) SendTypingIndicator(ctx context.Context, account model.Account, replyingToMessageID string) error {
	payload := map[string]interface{}{
		"messaging_product": messagingProduct,
		"status":            "read",
		"message_id":        replyingToMessageID,
		"typing_indicator":  map[string]string{"type": "text"},
	}
	_, err := c.sendMessagePayload(ctx, account, "typing_indicator", payload)
	return err
}

// MarkAsRead marks the referenced inbound message as read.
func (c *Client) MarkAsRead(ctx context.Context, account model.Account, providerMessageID string) error {
	payload := map[string]interface{}{
		"messaging_product": messagingProduct,
		"status":            "read",
		"message_id":        providerMessageID,
	}
	_, err := c.sendMessagePayload(ctx, account, "mark_read", payload)
	return err
}

// GetMediaInfo fetches media metadata, including the temporary download URL.
func (c *Client) GetMediaInfo(ctx context.Context, account model.Account, mediaID string) (*MediaInfo, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, mediaID)

	var info MediaInfo
	if err := c.doGet(ctx, account, "get_media_info", endpoint, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetTemplates returns the account's approved templates.
func (c *Client) GetTemplates(ctx context.Context, account model.Account) ([]Template, error) {
	query := url.Values{}
	query.Set("fields", "name,status,category,components,language")
	query.Set("limit", fmt.Sprintf("%d", templateListLimit))
	endpoint := fmt.Sprintf("%s/%s/%s/message_templates?%s", c.baseURL, c.apiVersion, account.BusinessAccountID, query.Encode())

	var list templateListResponse
	if err := c.doGet(ctx, account, "get_templates", endpoint, &list); err != nil {
		return nil, err
	}

	approved := make([]Template, 0, len(list.Data))
	for _, template := range list.Data {
		if template.Status == "APPROVED" {
			approved = append(approved, template)
		}
	}
	return approved, nil
}

// GetTemplateByName returns the approved template with the given name, or
// apperrors.ErrNotFound when the account has no such template.
func (c *Client) GetTemplateByName(ctx context.Context, account model.Account, templateName string) (*Template, error) {
	templates, err := c.GetTemplates(ctx, account)
	if err != nil {
		return nil, err
	}
	for i := range templates {
		if templates[i].Name == templateName {
			return &templates[i], nil
		}
	}
	return nil, fmt.Errorf("%w: template %q not approved for account %d", apperrors.ErrNotFound, templateName, account.ID)
}

func (c *Client) sendMessagePayload(ctx context.Context, account model.Account, operation string, payload map[string]interface{}) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, account.PhoneNumberID)

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %w", apperrors.ErrBadRequest, err)
	}

	startTime := time.Now()
	respBody, reqErr := c.doRequest(ctx, account, http.MethodPost, endpoint, encoded)
	observer.ObserveGatewayRequestDuration(operation, time.Since(startTime), reqErr)
	if reqErr != nil {
		logger.FromContext(ctx).Error("Provider request failed",
			zap.String("operation", operation),
			zap.Int64("account_id", account.ID),
			zap.Error(reqErr))
		return "", reqErr
	}

	var response sendMessageResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("%w: decode send response: %w", apperrors.ErrProvider, err)
	}
	if len(response.Messages) == 0 {
		// Status-only calls (read receipts, typing) return no message entry.
		return "", nil
	}
	return response.Messages[0].ID, nil
}

func (c *Client) doGet(ctx context.Context, account model.Account, operation, endpoint string, out interface{}) error {
	startTime := time.Now()
	respBody, reqErr := c.doRequest(ctx, account, http.MethodGet, endpoint, nil)
	observer.ObserveGatewayRequestDuration(operation, time.Since(startTime), reqErr)
	if reqErr != nil {
		logger.FromContext(ctx).Error("Provider request failed",
			zap.String("operation", operation),
			zap.Int64("account_id", account.ID),
			zap.Error(reqErr))
		return reqErr
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", apperrors.ErrProvider, err)
	}
	return nil
}

// doRequest performs one authenticated call and maps failures onto the error
// taxonomy: transport failures are retryable, provider rejections are
// permanent sentinels carrying the Graph code and message.
func (c *Client) doRequest(ctx context.Context, account model.Account, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", apperrors.ErrBadRequest, err)
	}
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewRetryable(err, "provider request %s %s", method, endpoint)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewRetryable(err, "read provider response")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	var envelope graphErrorResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil || envelope.Error == nil {
		if resp.StatusCode >= 500 {
			return nil, apperrors.NewRetryable(apperrors.ErrProvider, "provider returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d: %s", apperrors.ErrProvider, resp.StatusCode, string(respBody))
	}
	return nil, mapGraphError(envelope.Error)
}

// mapGraphError translates a Graph API error code into the app taxonomy.
func mapGraphError(graphErr *graphError) error {
	switch graphErr.Code {
	case 190:
		return fmt.Errorf("%w: code %d: %s", apperrors.ErrTokenExpired, graphErr.Code, graphErr.Message)
	case 4, 17, 32, 613, 80007, 130429:
		return apperrors.NewRetryable(apperrors.ErrRateLimited, "code %d: %s", graphErr.Code, graphErr.Message)
	case 10, 200, 299:
		return fmt.Errorf("%w: code %d: %s", apperrors.ErrPermissionDenied, graphErr.Code, graphErr.Message)
	default:
		return fmt.Errorf("%w: code %d: %s", apperrors.ErrProvider, graphErr.Code, graphErr.Message)
	}
}

// normalizePhone strips non-digits and prefixes the default country code when
// absent.
func normalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	normalized := digits.String()
	if !strings.HasPrefix(normalized, defaultCountryCode) {
		normalized = defaultCountryCode + normalized
	}
	return normalized
}
