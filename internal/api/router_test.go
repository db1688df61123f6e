package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/membriq/chainpay/pkg/logging"
)

type fakeHealth struct {
	err error
}

func (h *fakeHealth) Health(ctx context.Context) error {
	return h.err
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name      string
		healthErr error
		code      int
	}{
		{"healthy", nil, http.StatusOK},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := &Router{
				handler: NewJSONRPCHandler(),
				health:  &fakeHealth{err: tt.healthErr},
				logger:  logging.WithComponent("api-router"),
			}
			engine := gin.New()
			router.SetupRoutes(engine)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)

			if rec.Code != tt.code {
				t.Errorf("Expected HTTP %d, got %d", tt.code, rec.Code)
			}
		})
	}
}
