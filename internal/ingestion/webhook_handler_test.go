package ingestion

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/jetstream"
)

type jetstreamClientMock struct {
	mock.Mock
}

var _ jetstream.ClientInterface = (*jetstreamClientMock)(nil)

func (m *jetstreamClientMock) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	args := m.Called(ctx, streamConfig)
	return args.Error(0)
}

func (m *jetstreamClientMock) SetupConsumer(ctx context.Context, streamName string, consumerConfig *nats.ConsumerConfig) error {
	args := m.Called(ctx, streamName, consumerConfig)
	return args.Error(0)
}

func (m *jetstreamClientMock) Subscribe(subject, consumer, group string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subject, consumer, group, handler)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

func (m *jetstreamClientMock) SubscribePush(subject, consumer, group, stream string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subject, consumer, group, stream, handler)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

func (m *jetstreamClientMock) SubscribePull(streamName, subject, consumer string) (*nats.Subscription, error) {
	args := m.Called(streamName, subject, consumer)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

func (m *jetstreamClientMock) Publish(subject string, data []byte, headers map[string]string) error {
	args := m.Called(subject, data, headers)
	return args.Error(0)
}

func (m *jetstreamClientMock) Close() {
	m.Called()
}

func (m *jetstreamClientMock) NatsConn() *nats.Conn {
	args := m.Called()
	conn, _ := args.Get(0).(*nats.Conn)
	return conn
}

const (
	testVerifyToken = "verify-secret"
	testAppSecret   = "app-secret"
	testSubject     = "v1.webhook.inbound"
)

func newTestHandler(publisher *jetstreamClientMock) *WebhookHandler {
	return NewWebhookHandler(publisher, testSubject, testVerifyToken, testAppSecret)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerification_EchoesChallenge(t *testing.T) {
	handler := newTestHandler(new(jetstreamClientMock))

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestVerification_WrongTokenIsForbidden(t *testing.T) {
	handler := newTestHandler(new(jetstreamClientMock))

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestVerification_WrongModeIsForbidden(t *testing.T) {
	handler := newTestHandler(new(jetstreamClientMock))

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=unsubscribe&hub.verify_token="+testVerifyToken, nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEvent_ValidSignatureIsQueued(t *testing.T) {
	publisher := new(jetstreamClientMock)
	handler := newTestHandler(publisher)

	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	publisher.On("Publish", testSubject, body, mock.MatchedBy(func(headers map[string]string) bool {
		return headers["Nats-Msg-Id"] != ""
	})).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, signBody(testAppSecret, body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
}

func TestEvent_BadSignatureIsRejected(t *testing.T) {
	publisher := new(jetstreamClientMock)
	handler := newTestHandler(publisher)

	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, signBody("other-secret", body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestEvent_MissingSignatureIsRejected(t *testing.T) {
	publisher := new(jetstreamClientMock)
	handler := newTestHandler(publisher)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestEvent_EmptySecretSkipsSignatureCheck(t *testing.T) {
	publisher := new(jetstreamClientMock)
	handler := NewWebhookHandler(publisher, testSubject, testVerifyToken, "")

	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	publisher.On("Publish", testSubject, body, mock.Anything).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
}

func TestEvent_PublishFailureReturns500(t *testing.T) {
	publisher := new(jetstreamClientMock)
	handler := newTestHandler(publisher)

	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	publisher.On("Publish", testSubject, body, mock.Anything).Return(errors.New("nats unavailable"))

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, signBody(testAppSecret, body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	publisher.AssertExpectations(t)
}

func TestUnsupportedMethodIsRejected(t *testing.T) {
	handler := newTestHandler(new(jetstreamClientMock))

	req := httptest.NewRequest(http.MethodDelete, "/webhook", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
