package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize("error"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newTestSpeechClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "test-key", 5*time.Second)
}

func TestTranscribe(t *testing.T) {
	var captured transcribeRequest
	client := newTestSpeechClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]string{"text": " bom dia, preciso de ajuda "})
	})

	text, err := client.Transcribe(context.Background(), "https://cdn.example.com/voice.ogg", "audio/ogg; codecs=opus")

	require.NoError(t, err)
	assert.Equal(t, "bom dia, preciso de ajuda", text)
	assert.Equal(t, "audio/ogg", captured.MimeType)
	assert.Equal(t, "pt-BR", captured.Language)
}

func TestTranscribe_UnsupportedFormat(t *testing.T) {
	called := false
	client := newTestSpeechClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	text, err := client.Transcribe(context.Background(), "https://cdn.example.com/voice.aac", "audio/aac")

	require.NoError(t, err)
	assert.Empty(t, text)
	assert.False(t, called)
}

func TestSynthesize(t *testing.T) {
	var captured synthesizeRequest
	client := newTestSpeechClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/synthesize", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]string{"audio_url": "https://cdn.example.com/reply.mp3"})
	})

	audioURL, err := client.Synthesize(context.Background(), "Olá! 😀 Posso ajudar? ⭐", "conv-42")

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/reply.mp3", audioURL)
	assert.Equal(t, "Olá!  Posso ajudar?", captured.Text)
	assert.Equal(t, "conv-42", captured.ConversationKey)
}

func TestSynthesize_ServerErrorIsRetryable(t *testing.T) {
	client := newTestSpeechClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Synthesize(context.Background(), "oi", "conv-1")

	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestRemoveEmojis(t *testing.T) {
	assert.Equal(t, "Bom dia!", removeEmojis("Bom dia! 🌞"))
	assert.Equal(t, "sem emoji", removeEmojis("sem emoji"))
	assert.Equal(t, "", removeEmojis("🎉🎊"))
}
