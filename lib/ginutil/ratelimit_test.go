package ginutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/", RateLimit(RateLimitConfig{RequestsPerMinute: 1, Burst: 2}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusOK, request("10.0.0.1"))
	require.Equal(t, http.StatusOK, request("10.0.0.1"))
	require.Equal(t, http.StatusTooManyRequests, request("10.0.0.1"))

	// buckets are per client ip
	require.Equal(t, http.StatusOK, request("10.0.0.2"))
}
