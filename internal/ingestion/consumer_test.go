package ingestion

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
)

func TestDetermineAckNakAction(t *testing.T) {
	const (
		maxDeliver = 5
		baseDelay  = 2 * time.Second
		maxDelay   = 30 * time.Second
	)

	retryable := apperrors.NewRetryable(errors.New("db down"), "persist failed")
	permanent := errors.New("unknown message type")

	tests := []struct {
		name         string
		err          error
		numDelivered uint64
		wantAction   AckNakAction
		wantDelay    time.Duration
	}{
		{
			name:         "success acks",
			err:          nil,
			numDelivered: 1,
			wantAction:   ActionAck,
		},
		{
			name:         "retryable first delivery naks with base delay",
			err:          retryable,
			numDelivered: 1,
			wantAction:   ActionNakDelay,
			wantDelay:    baseDelay,
		},
		{
			name:         "retryable delay doubles per delivery",
			err:          retryable,
			numDelivered: 3,
			wantAction:   ActionNakDelay,
			wantDelay:    8 * time.Second,
		},
		{
			name:         "retryable fourth delivery keeps doubling",
			err:          retryable,
			numDelivered: 4,
			wantAction:   ActionNakDelay,
			wantDelay:    16 * time.Second,
		},
		{
			name:         "retryable at max deliveries terminates",
			err:          retryable,
			numDelivered: maxDeliver,
			wantAction:   ActionTerm,
		},
		{
			name:         "permanent error terminates immediately",
			err:          permanent,
			numDelivered: 1,
			wantAction:   ActionTerm,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			metadata := &nats.MsgMetadata{NumDelivered: tc.numDelivered}
			action, delay := determineAckNakAction(tc.err, metadata, maxDeliver, baseDelay, maxDelay)
			assert.Equal(t, tc.wantAction, action)
			assert.Equal(t, tc.wantDelay, delay)
		})
	}
}

func TestDetermineAckNakAction_DelayCap(t *testing.T) {
	retryable := apperrors.NewRetryable(errors.New("db down"), "persist failed")
	metadata := &nats.MsgMetadata{NumDelivered: 9}

	action, delay := determineAckNakAction(retryable, metadata, 20, 2*time.Second, 30*time.Second)
	assert.Equal(t, ActionNakDelay, action)
	assert.Equal(t, 30*time.Second, delay)
}
