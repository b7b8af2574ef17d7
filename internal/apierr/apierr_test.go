package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMapsKindToStatus(t *testing.T) {
	cases := map[Kind]int{
		QuotaExceeded:        http.StatusTooManyRequests,
		StorageLimitExceeded: http.StatusRequestEntityTooLarge,
		StorageUnavailable:   http.StatusBadGateway,
		CapacityExhausted:    http.StatusServiceUnavailable,
		PrivilegeDenied:      http.StatusForbidden,
		NotFound:             http.StatusNotFound,
		StateInvalid:         http.StatusBadRequest,
		AuthRequired:         http.StatusUnauthorized,
		UpstreamFailure:      http.StatusBadGateway,
	}
	for kind, wantStatus := range cases {
		rec := httptest.NewRecorder()
		Write(rec, New(kind, "boom"))
		assert.Equal(t, wantStatus, rec.Code, "kind %s", kind)

		var body response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, kind, body.Code)
		assert.Equal(t, "boom", body.Error)
	}
}

func TestWriteUnwrappedErrorIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, errors.New("plain failure"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, InternalError, body.Code)
}

func TestWriteIncludesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, WithDetails(StorageLimitExceeded, "workspace too large", map[string]any{
		"measured": 123,
		"allowed":  100,
	}))

	var body response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(123), body.Details["measured"])
	assert.Equal(t, float64(100), body.Details["allowed"])
}

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	base := New(NotFound, "session gone")
	wrapped := errors.Join(errors.New("context"), base)
	assert.Equal(t, NotFound, KindOf(wrapped))
}

func TestKindOfDefaultsToInternalError(t *testing.T) {
	assert.Equal(t, InternalError, KindOf(errors.New("unstructured")))
}

func TestWriteValidationAndUnauthorized(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteValidation(rec, "bad model", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec2 := httptest.NewRecorder()
	WriteUnauthorized(rec2, "missing token")
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}
