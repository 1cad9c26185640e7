package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_StatusCodeMapsEveryKnownCode(t *testing.T) {
	cases := map[ErrorCode]int{
		CodeValidation:   http.StatusBadRequest,
		CodeUnauthorized: http.StatusUnauthorized,
		CodeForbidden:    http.StatusForbidden,
		CodeNotFound:     http.StatusNotFound,
		CodeConflict:     http.StatusConflict,
		CodeRateLimited:  http.StatusTooManyRequests,
		CodeUnavailable:  http.StatusServiceUnavailable,
		CodeTimeout:      http.StatusGatewayTimeout,
		CodeInternal:     http.StatusInternalServerError,
	}
	for code, status := range cases {
		err := NewAPIError(code, "boom")
		assert.Equal(t, status, err.StatusCode(), "code %s", code)
	}
}

func TestAPIError_StatusCodeDefaultsToInternalForUnknownCode(t *testing.T) {
	err := NewAPIError(ErrorCode("something_else"), "boom")
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode())
}

func TestAPIError_ErrorFormatsCodeAndMessage(t *testing.T) {
	err := NewAPIError(CodeValidation, "field is required")
	assert.Equal(t, "[VALIDATION_ERROR] field is required", err.Error())
}

func TestAPIError_WithMethodsChainAndMutate(t *testing.T) {
	err := NewAPIError(CodeValidation, "boom").
		WithDetails(map[string]string{"field": "email"}).
		WithRequestID("req-1").
		WithDocumentationURL("https://docs.example.com/errors")

	assert.Equal(t, "req-1", err.RequestID)
	assert.Equal(t, "https://docs.example.com/errors", err.DocumentationURL)
	assert.NotNil(t, err.Details)
}

func TestWriteError_WritesStatusAndEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NotFound("template"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, CodeNotFound, env.Error.Code)
	assert.Equal(t, "template not found", env.Error.Message)
}

func TestWriteSuccess_WritesOKEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"id": "123"})

	assert.Equal(t, http.StatusOK, rec.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.NotNil(t, env.Data)
}

func TestWriteSuccessStatus_WritesGivenStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccessStatus(rec, http.StatusCreated, map[string]string{"id": "123"})

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestConstructorHelpers_ProduceExpectedCodesAndMessages(t *testing.T) {
	assert.Equal(t, CodeValidation, Validation("bad input").Code)
	assert.Equal(t, CodeUnauthorized, Unauthorized("nope").Code)
	assert.Equal(t, CodeForbidden, Forbidden("nope").Code)
	assert.Equal(t, CodeConflict, Conflict("exists").Code)
	assert.Equal(t, CodeInternal, Internal("oops").Code)

	nf := NotFound("user")
	assert.Equal(t, "user not found", nf.Message)

	rl := RateLimited()
	assert.Equal(t, CodeRateLimited, rl.Code)

	unavailable := Unavailable("database")
	assert.Equal(t, "database is currently unavailable", unavailable.Message)

	timeout := Timeout("render")
	assert.Equal(t, "render timed out", timeout.Message)
}
