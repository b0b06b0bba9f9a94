package model

import (
	"fmt"
	"strconv"
)

// WebhookPayload is the provider's batch callback body. One POST may carry
// multiple entries, each with multiple change events.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry groups change events for one business account.
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange is a single change event. Only "messages" fields are
// processed by the ingestion pipeline.
type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

// WebhookValue carries the actual message or status payload of a change.
type WebhookValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         WebhookMetadata   `json:"metadata"`
	Contacts         []WebhookContact  `json:"contacts,omitempty"`
	Messages         []WebhookMessage  `json:"messages,omitempty"`
	Statuses         []WebhookStatus   `json:"statuses,omitempty"`
	Errors           []WebhookAPIError `json:"errors,omitempty"`
}

// WebhookMetadata identifies the receiving provider account.
type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// WebhookContact is the sender's profile snapshot attached to a message event.
type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// WebhookMessage is one inbound user message.
type WebhookMessage struct {
	ID        string           `json:"id"`
	From      string           `json:"from"`
	Timestamp string           `json:"timestamp"` // unix seconds, as a string
	Type      MessageType      `json:"type"`
	Text      *WebhookText     `json:"text,omitempty"`
	Image     *WebhookMedia    `json:"image,omitempty"`
	Video     *WebhookMedia    `json:"video,omitempty"`
	Audio     *WebhookMedia    `json:"audio,omitempty"`
	Document  *WebhookMedia    `json:"document,omitempty"`
	Sticker   *WebhookMedia    `json:"sticker,omitempty"`
	Location  *WebhookLocation `json:"location,omitempty"`
}

// WebhookText is the body of a text message.
type WebhookText struct {
	Body string `json:"body"`
}

// WebhookMedia is the provider-side media reference attached to a media message.
type WebhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// WebhookLocation is a shared location message.
type WebhookLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// WebhookStatus is a delivery status update for a previously sent message.
type WebhookStatus struct {
	ID          string            `json:"id"` // provider message id of the target
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	RecipientID string            `json:"recipient_id"`
	Errors      []WebhookAPIError `json:"errors,omitempty"`
}

// WebhookAPIError is a provider-reported error attached to a status or change.
type WebhookAPIError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
	Details string `json:"error_data,omitempty"`
}

// UnixTimestamp parses the message's string timestamp into unix seconds.
// Returns 0 for absent or malformed values.
func (m WebhookMessage) UnixTimestamp() int64 {
	ts, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// UnixTimestamp parses the status's string timestamp into unix seconds.
func (s WebhookStatus) UnixTimestamp() int64 {
	ts, err := strconv.ParseInt(s.Timestamp, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// MediaDescriptor is the (id, mime type) pair extracted from a media message.
type MediaDescriptor struct {
	ID       string
	MimeType string
}

// ExtractContent returns the textual content of an inbound message by its
// type. The switch is exhaustive over MessageType; unknown types carry no
// content.
func ExtractContent(m WebhookMessage) *string {
	switch m.Type {
	case TypeText:
		if m.Text == nil {
			return nil
		}
		return &m.Text.Body
	case TypeImage:
		return captionOf(m.Image)
	case TypeVideo:
		return captionOf(m.Video)
	case TypeDocument:
		return captionOf(m.Document)
	case TypeLocation:
		if m.Location == nil {
			return nil
		}
		s := fmt.Sprintf("%v,%v", m.Location.Latitude, m.Location.Longitude)
		return &s
	case TypeAudio, TypeSticker, TypeTemplate, TypeUnknown:
		return nil
	}
	return nil
}

// ExtractMedia returns the media descriptor of an inbound message by its
// type, or nil when the type carries no media.
func ExtractMedia(m WebhookMessage) *MediaDescriptor {
	switch m.Type {
	case TypeImage:
		return descriptorOf(m.Image)
	case TypeVideo:
		return descriptorOf(m.Video)
	case TypeAudio:
		return descriptorOf(m.Audio)
	case TypeDocument:
		return descriptorOf(m.Document)
	case TypeSticker:
		return descriptorOf(m.Sticker)
	case TypeText, TypeLocation, TypeTemplate, TypeUnknown:
		return nil
	}
	return nil
}

func captionOf(media *WebhookMedia) *string {
	if media == nil || media.Caption == "" {
		return nil
	}
	return &media.Caption
}

func descriptorOf(media *WebhookMedia) *MediaDescriptor {
	if media == nil {
		return nil
	}
	return &MediaDescriptor{ID: media.ID, MimeType: media.MimeType}
}
