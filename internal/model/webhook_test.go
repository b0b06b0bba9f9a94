package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractContent(t *testing.T) {
	tests := []struct {
		name    string
		message WebhookMessage
		want    *string
	}{
		{
			name:    "text body",
			message: WebhookMessage{Type: TypeText, Text: &WebhookText{Body: "hello"}},
			want:    strPtr("hello"),
		},
		{
			name:    "image with caption",
			message: WebhookMessage{Type: TypeImage, Image: &WebhookMedia{ID: "m1", MimeType: "image/jpeg", Caption: "look"}},
			want:    strPtr("look"),
		},
		{
			name:    "image without caption",
			message: WebhookMessage{Type: TypeImage, Image: &WebhookMedia{ID: "m1", MimeType: "image/jpeg"}},
			want:    nil,
		},
		{
			name:    "document caption",
			message: WebhookMessage{Type: TypeDocument, Document: &WebhookMedia{ID: "d1", Caption: "invoice"}},
			want:    strPtr("invoice"),
		},
		{
			name:    "location as lat,lng",
			message: WebhookMessage{Type: TypeLocation, Location: &WebhookLocation{Latitude: -15.79, Longitude: -47.88}},
			want:    strPtr("-15.79,-47.88"),
		},
		{
			name:    "audio has no content",
			message: WebhookMessage{Type: TypeAudio, Audio: &WebhookMedia{ID: "a1", MimeType: "audio/ogg"}},
			want:    nil,
		},
		{
			name:    "sticker has no content",
			message: WebhookMessage{Type: TypeSticker, Sticker: &WebhookMedia{ID: "s1"}},
			want:    nil,
		},
		{
			name:    "unknown type has no content",
			message: WebhookMessage{Type: TypeUnknown},
			want:    nil,
		},
		{
			name:    "text with missing body struct",
			message: WebhookMessage{Type: TypeText},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractContent(tt.message)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestExtractMedia(t *testing.T) {
	tests := []struct {
		name    string
		message WebhookMessage
		want    *MediaDescriptor
	}{
		{
			name:    "image",
			message: WebhookMessage{Type: TypeImage, Image: &WebhookMedia{ID: "m1", MimeType: "image/jpeg"}},
			want:    &MediaDescriptor{ID: "m1", MimeType: "image/jpeg"},
		},
		{
			name:    "audio",
			message: WebhookMessage{Type: TypeAudio, Audio: &WebhookMedia{ID: "a1", MimeType: "audio/ogg"}},
			want:    &MediaDescriptor{ID: "a1", MimeType: "audio/ogg"},
		},
		{
			name:    "sticker",
			message: WebhookMessage{Type: TypeSticker, Sticker: &WebhookMedia{ID: "s1", MimeType: "image/webp"}},
			want:    &MediaDescriptor{ID: "s1", MimeType: "image/webp"},
		},
		{
			name:    "text carries no media",
			message: WebhookMessage{Type: TypeText, Text: &WebhookText{Body: "hi"}},
			want:    nil,
		},
		{
			name:    "location carries no media",
			message: WebhookMessage{Type: TypeLocation, Location: &WebhookLocation{Latitude: 1, Longitude: 2}},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMedia(tt.message)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWebhookMessageUnixTimestamp(t *testing.T) {
	assert.Equal(t, int64(1700000000), WebhookMessage{Timestamp: "1700000000"}.UnixTimestamp())
	assert.Equal(t, int64(0), WebhookMessage{Timestamp: "not-a-number"}.UnixTimestamp())
	assert.Equal(t, int64(0), WebhookMessage{}.UnixTimestamp())
}

func TestWebhookPayloadDecoding(t *testing.T) {
	raw := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "12345",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "5561999999999", "phone_number_id": "987"},
					"contacts": [{"wa_id": "5561888888888", "profile": {"name": "Maria"}}],
					"messages": [{
						"id": "wamid.abc",
						"from": "5561888888888",
						"timestamp": "1700000000",
						"type": "text",
						"text": {"body": "Quero agendar"}
					}]
				}
			}]
		}]
	}`

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	require.Len(t, payload.Entry, 1)
	require.Len(t, payload.Entry[0].Changes, 1)

	change := payload.Entry[0].Changes[0]
	assert.Equal(t, "messages", change.Field)
	assert.Equal(t, "987", change.Value.Metadata.PhoneNumberID)
	require.Len(t, change.Value.Messages, 1)

	msg := change.Value.Messages[0]
	assert.Equal(t, "wamid.abc", msg.ID)
	assert.Equal(t, TypeText, msg.Type)
	assert.Equal(t, "Maria", change.Value.Contacts[0].Profile.Name)
}

func TestChatbotContextRoundTrip(t *testing.T) {
	in := AwaitingServiceResultContext{Intent: "schedule_service", PostalCode: "71503-505"}
	encoded, err := EncodeChatbotContext(in)
	require.NoError(t, err)

	var out AwaitingServiceResultContext
	require.NoError(t, DecodeChatbotContext(encoded, &out))
	assert.Equal(t, in, out)

	// empty column leaves target untouched
	var untouched AwaitingLocationContext
	require.NoError(t, DecodeChatbotContext(nil, &untouched))
	assert.Zero(t, untouched)
}

func TestChatbotStateValid(t *testing.T) {
	assert.True(t, StateIdle.Valid())
	assert.True(t, StateAwaitingLocation.Valid())
	assert.False(t, ChatbotState("bogus").Valid())
}

func strPtr(s string) *string { return &s }
