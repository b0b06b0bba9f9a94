package utils

import (
	"context"
	"errors"
)

// ErrValueNotFound is returned when a context value is missing or not a
// non-empty string.
var ErrValueNotFound = errors.New("value not found in context")

// GetContextString extracts a string value from the context by its key
func GetContextString(ctx context.Context, key interface{}) (string, error) {
	value, ok := ctx.Value(key).(string)
	if !ok || value == "" {
		return "", ErrValueNotFound
	}
	return value, nil
}
