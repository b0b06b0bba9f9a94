package model

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// ChatbotState is the closed set of chatbot flow states a conversation
// can be in. The zero value (StateIdle) means no flow is pending.
type ChatbotState string

const (
	StateIdle                            ChatbotState = ""
	StateAwaitingLocation                ChatbotState = "awaiting_location"
	StateAwaitingServiceResult           ChatbotState = "awaiting_service_result"
	StateAwaitingAppointmentConfirmation ChatbotState = "awaiting_appointment_confirmation"
)

// Valid reports whether s is a known chatbot state.
func (s ChatbotState) Valid() bool {
	switch s {
	case StateIdle, StateAwaitingLocation, StateAwaitingServiceResult, StateAwaitingAppointmentConfirmation:
		return true
	}
	return false
}

// AwaitingLocationContext is the scratch data carried while the chatbot
// waits for the user to provide a location.
type AwaitingLocationContext struct {
	Intent      string `json:"intent"`
	PromptCount int    `json:"prompt_count,omitempty"`
	LastAudio   bool   `json:"last_audio,omitempty"`
}

// AwaitingServiceResultContext is carried while an asynchronous service
// point lookup is in flight.
type AwaitingServiceResultContext struct {
	Intent     string  `json:"intent"`
	PostalCode string  `json:"postal_code,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
}

// AwaitingAppointmentContext is carried while waiting for the user to
// confirm or decline an appointment at a resolved service point.
type AwaitingAppointmentContext struct {
	ServicePointName    string `json:"service_point_name"`
	ServicePointAddress string `json:"service_point_address,omitempty"`
}

// EncodeChatbotContext marshals a typed per-state context into the JSONB
// column representation. It panics only on unmarshalable values, which
// the typed contexts above can never produce.
func EncodeChatbotContext(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode chatbot context: %w", err)
	}
	return datatypes.JSON(data), nil
}

// DecodeChatbotContext unmarshals the stored context into the typed
// structure matching the conversation's current state. An empty column
// yields no error and leaves the target untouched.
func DecodeChatbotContext(data datatypes.JSON, target interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode chatbot context: %w", err)
	}
	return nil
}
