package ingestion

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/appctx"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/jetstream"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/observer"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
)

const signatureHeader = "X-Hub-Signature-256"

// maxWebhookBodyBytes bounds the accepted payload size. Provider batches are
// small; anything past this is not a legitimate callback.
const maxWebhookBodyBytes = 1 << 20

// WebhookHandler terminates the provider's HTTP callbacks. It answers the
// subscription verification handshake and queues signed event payloads onto
// JetStream for the consumer to process, keeping the HTTP path free of any
// database work.
type WebhookHandler struct {
	publisher   jetstream.ClientInterface
	subject     string
	verifyToken string
	appSecret   string
}

// NewWebhookHandler creates the webhook HTTP handler publishing to the given
// JetStream subject.
func NewWebhookHandler(publisher jetstream.ClientInterface, subject, verifyToken, appSecret string) *WebhookHandler {
	return &WebhookHandler{
		publisher:   publisher,
		subject:     subject,
		verifyToken: verifyToken,
		appSecret:   appSecret,
	}
}

// Register mounts the handler on the given mux.
func (h *WebhookHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", h.ServeHTTP)
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Tag the request so every log line from this callback carries the same id.
	r = r.WithContext(appctx.WithRequestID(r.Context(), uuid.NewString()))

	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleEvent(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleVerification answers the provider's subscription handshake by echoing
// the challenge when the verify token matches.
func (h *WebhookHandler) handleVerification(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken {
		log.Warn("Rejected webhook verification attempt", zap.String("mode", mode))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	log.Info("Webhook subscription verified")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(challenge)); err != nil {
		log.Error("Failed to write verification challenge", zap.Error(err))
	}
}

// handleEvent validates the payload signature and queues it for ingestion.
func (h *WebhookHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Error("Failed to read webhook body", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.validSignature(body, r.Header.Get(signatureHeader)) {
		log.Warn("Rejected webhook payload with bad signature", zap.Int("payload_bytes", len(body)))
		observer.IncWebhookEventsFailed("signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	headers := map[string]string{
		"Nats-Msg-Id": uuid.NewString(),
	}
	if err := h.publisher.Publish(h.subject, body, headers); err != nil {
		// A 5xx makes the provider redeliver, which is exactly what we want
		// when the queue is unavailable.
		log.Error("Failed to queue webhook payload", zap.Error(err), zap.String("subject", h.subject))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// validSignature checks the sha256 HMAC the provider computes over the raw
// body. An empty configured secret disables the check for local development.
func (h *WebhookHandler) validSignature(body []byte, header string) bool {
	if h.appSecret == "" {
		return true
	}

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(header))
}
