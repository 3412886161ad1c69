// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware holds gin middleware for the archivist service.
package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitConfig tunes the per-client limiter on LLM-invoking endpoints.
type RateLimitConfig struct {
	// RequestsPerMinute per client address.
	RequestsPerMinute int
	// Burst for the in-process fallback limiter.
	Burst int
}

// DefaultRateLimitConfig returns production defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 20, Burst: 5}
}

// RateLimit limits requests per client IP using a fixed one-minute window
// in Redis so multiple workers share counters. Without Redis it degrades to
// per-process token buckets.
func RateLimit(rdb *redis.Client, cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}

	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	localAllow := func(clientIP string) bool {
		mu.Lock()
		defer mu.Unlock()
		limiter, ok := limiters[clientIP]
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.Burst)
			limiters[clientIP] = limiter
		}
		return limiter.Allow()
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		allowed := true
		if rdb != nil {
			key := fmt.Sprintf("recall:ratelimit:%s:%s", clientIP, time.Now().UTC().Format("200601021504"))
			count, err := rdb.Incr(c.Request.Context(), key).Result()
			if err == nil {
				if count == 1 {
					rdb.Expire(c.Request.Context(), key, 2*time.Minute)
				}
				allowed = count <= int64(cfg.RequestsPerMinute)
			} else {
				// Redis down - fall back to the in-process limiter.
				allowed = localAllow(clientIP)
			}
		} else {
			allowed = localAllow(clientIP)
		}

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, slow down",
			})
			return
		}
		c.Next()
	}
}
