package httputil

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
)

func newGinContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

func TestHandleErrorGin(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		errorCode  string
	}{
		{"not found", apperrors.ErrNotFound, http.StatusNotFound, "not_found"},
		{"conflict", apperrors.ErrConflict, http.StatusConflict, "conflict"},
		{"invalid input", apperrors.ErrInvalidInput, http.StatusUnprocessableEntity, "invalid_input"},
		{"unauthorized", apperrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"storage failure", apperrors.ErrStorage, http.StatusServiceUnavailable, "storage_unavailable"},
		{"wrapped storage failure", apperrors.Wrap(apperrors.ErrStorage, "insert failed"),
			http.StatusServiceUnavailable, "storage_unavailable"},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newGinContext()
			HandleErrorGin(c, tt.err, slog.Default())

			assert.Equal(t, tt.statusCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.errorCode)
		})
	}
}

func TestHandleBadRequestGin(t *testing.T) {
	c, w := newGinContext()
	HandleBadRequestGin(c, errors.New("malformed json"), slog.Default())

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "bad_request")
	assert.Contains(t, w.Body.String(), "malformed json")
}

func TestHandleValidationErrorGin(t *testing.T) {
	c, w := newGinContext()
	HandleValidationErrorGin(c, errors.New("camera_id: cannot be blank"), slog.Default())

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
}
