package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/indiguild/offramp-service/internal/logger"
)

func TestRateLimit_ShedsExcessRequestsPerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log, _ := logger.NewLogger("info")

	r := gin.New()
	r.Use(RequestLogger(log))
	r.Use(RateLimit(1, 1))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// bucket is drained: the immediate follow-up from the same IP is shed
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// a different client gets its own bucket
	other := httptest.NewRequest(http.MethodGet, "/ping", nil)
	other.RemoteAddr = "198.51.100.7:9999"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, other)
	assert.Equal(t, http.StatusOK, w.Code)
}
