package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwyprof/fundme/web/api"
)

func TestAPIErrorHandling(t *testing.T) {
	t.Parallel()

	t.Run("it exposes all error details safely for BadRequest", func(t *testing.T) {
		t.Parallel()

		// Arrange
		validationErr := errors.New("invalid amount: amount must be greater than zero")

		// Act
		apiErr := api.BadRequest(validationErr)

		// Assert
		assert.Equal(t, http.StatusBadRequest, apiErr.HTTPCode())
		assert.Equal(t, "invalid amount: amount must be greater than zero", apiErr.Error())
		assert.Equal(t, validationErr, apiErr.Cause())
	})

	t.Run("it hides sensitive details for InternalServerError", func(t *testing.T) {
		t.Parallel()

		// Arrange
		internalErr := errors.New("database connection failed: password authentication failed for user 'admin'")

		// Act
		apiErr := api.InternalServerError(internalErr)

		// Assert
		assert.Equal(t, http.StatusInternalServerError, apiErr.HTTPCode())
		assert.Equal(t, "Internal Server Error", apiErr.Error()) // Generic message, no sensitive info
		assert.Equal(t, internalErr, apiErr.Cause())             // Original error still available for logging
	})

	t.Run("it classifies unknown errors as InternalServerError", func(t *testing.T) {
		t.Parallel()

		// Arrange
		unknownErr := errors.New("some random error")

		// Act
		apiErr := api.Wrap(unknownErr)

		// Assert
		require.NotNil(t, apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.HTTPCode())
		assert.Equal(t, "Internal Server Error", apiErr.Error())
		assert.Equal(t, unknownErr, apiErr.Cause())
	})

	t.Run("it creates correct JSON structure when marshaling", func(t *testing.T) {
		t.Parallel()

		// Arrange
		validationErr := errors.New("invalid action id")
		apiErr := api.BadRequest(validationErr)

		// Act
		jsonBytes, err := json.Marshal(apiErr)

		// Assert
		require.NoError(t, err)

		var response map[string]any
		err = json.Unmarshal(jsonBytes, &response)
		require.NoError(t, err)

		assert.Equal(t, float64(http.StatusBadRequest), response["code"])
		assert.Equal(t, "invalid action id", response["message"])
	})

	t.Run("it prevents double-wrapping of API errors", func(t *testing.T) {
		t.Parallel()

		// Arrange
		originalErr := errors.New("some validation error")
		apiErr1 := api.BadRequest(originalErr)

		// Act - try to wrap an already wrapped error
		apiErr2 := api.Wrap(apiErr1)

		// Assert - should return the same error, not double-wrap
		assert.Same(t, apiErr1, apiErr2)
	})

	t.Run("it supports error unwrapping correctly", func(t *testing.T) {
		t.Parallel()

		// Arrange
		originalErr := errors.New("original error")
		apiErr := api.BadRequest(originalErr)

		// Act & Assert - errors.Is should work through the wrapper
		assert.True(t, errors.Is(apiErr, originalErr))
		assert.Equal(t, originalErr, errors.Unwrap(apiErr))
	})

	t.Run("it exposes client error messages with their status", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("no wallet session")
		cases := map[int]*api.Error{
			http.StatusForbidden: api.Forbidden(cause),
			http.StatusNotFound:  api.NotFound(cause),
			http.StatusConflict:  api.Conflict(cause),
		}

		for code, apiErr := range cases {
			assert.Equal(t, code, apiErr.HTTPCode())
			assert.Equal(t, "no wallet session", apiErr.Error())
			assert.ErrorIs(t, apiErr, cause)
		}
	})

	t.Run("it hides the cause of an unavailable dependency", func(t *testing.T) {
		t.Parallel()

		// Arrange
		cause := errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")

		// Act
		apiErr := api.ServiceUnavailable(cause)

		// Assert
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.HTTPCode())
		assert.Equal(t, "Service Unavailable", apiErr.Error())
		assert.Equal(t, cause, apiErr.Cause())
	})

	t.Run("it returns nil when wrapping a nil error", func(t *testing.T) {
		t.Parallel()

		// Act
		result := api.Wrap(nil)

		// Assert
		assert.Nil(t, result)
	})
}
