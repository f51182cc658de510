package ginutil

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	Burst             int `json:"burst"`
}

// RateLimit returns a per-client-IP token bucket middleware. Buckets
// for idle clients expire after an hour.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = perMinute
	}

	buckets := expirable.NewLRU[string, *rate.Limiter](4096, nil, time.Hour)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter, ok := buckets.Get(ip)
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst)
			buckets.Add(ip, limiter)
		}
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Too many requests, slow down.",
			})
			return
		}
		c.Next()
	}
}
