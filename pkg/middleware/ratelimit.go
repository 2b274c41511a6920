package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sirosfoundation/go-http-capture/pkg/config"
)

// AuthRateLimiter throttles admin API clients, keyed by client IP,
// and locks a client out once its budget is spent.
type AuthRateLimiter struct {
	config config.AuthRateLimitConfig
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*authLimiter

	cleanupInterval time.Duration
	lastCleanup     time.Time
}

type authLimiter struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
	lockoutEnd time.Time
}

// NewAuthRateLimiter creates a new rate limiter for the admin API
func NewAuthRateLimiter(cfg config.AuthRateLimitConfig, logger *zap.Logger) *AuthRateLimiter {
	cfg.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthRateLimiter{
		config:          cfg,
		logger:          logger.Named("auth-ratelimit"),
		limiters:        make(map[string]*authLimiter),
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

// getLimiter must be called with r.mu held
func (r *AuthRateLimiter) getLimiter(identifier string) *authLimiter {
	if time.Since(r.lastCleanup) > r.cleanupInterval {
		r.cleanup()
	}

	limiter, exists := r.limiters[identifier]
	if exists {
		limiter.lastSeen = time.Now()
		return limiter
	}

	// MaxAttempts per WindowSeconds
	rateLimit := rate.Limit(float64(r.config.MaxAttempts) / float64(r.config.WindowSeconds))
	burst := int(math.Ceil(float64(r.config.MaxAttempts) / 2.0))
	if burst < 1 {
		burst = 1
	}

	limiter = &authLimiter{
		limiter:  rate.NewLimiter(rateLimit, burst),
		lastSeen: time.Now(),
	}
	r.limiters[identifier] = limiter
	return limiter
}

func (r *AuthRateLimiter) cleanup() {
	cutoff := time.Now().Add(-30 * time.Minute)
	for key, limiter := range r.limiters {
		if limiter.lastSeen.Before(cutoff) && time.Now().After(limiter.lockoutEnd) {
			delete(r.limiters, key)
		}
	}
	r.lastCleanup = time.Now()
}

// Allow reports whether identifier may make another request.
// Exhausting the budget starts a lockout.
func (r *AuthRateLimiter) Allow(identifier string) bool {
	if !r.config.Enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limiter := r.getLimiter(identifier)
	now := time.Now()
	if now.Before(limiter.lockoutEnd) {
		return false
	}

	if !limiter.limiter.AllowN(now, 1) {
		limiter.lockoutEnd = now.Add(r.lockout())
		r.logger.Warn("Admin rate limit exceeded, applying lockout",
			zap.String("identifier", identifier),
			zap.Duration("lockout_duration", r.lockout()),
		)
		return false
	}
	return true
}

// RecordFailure charges a failed authentication attempt
func (r *AuthRateLimiter) RecordFailure(identifier string) {
	if !r.config.Enabled {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Failures cost two tokens and may drive the bucket into debt
	r.getLimiter(identifier).limiter.ReserveN(time.Now(), 2)
}

// RetryAfter returns the remaining lockout for identifier
func (r *AuthRateLimiter) RetryAfter(identifier string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, ok := r.limiters[identifier]
	if !ok {
		return 0
	}
	if d := time.Until(limiter.lockoutEnd); d > 0 {
		return d
	}
	return 0
}

func (r *AuthRateLimiter) lockout() time.Duration {
	return time.Duration(r.config.LockoutSeconds) * time.Second
}

// AuthRateLimitMiddleware rejects clients over their budget with 429
func AuthRateLimitMiddleware(rl *AuthRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.config.Enabled {
			c.Next()
			return
		}

		identifier := c.ClientIP()
		if identifier == "" {
			identifier = "_anonymous"
		}

		if !rl.Allow(identifier) {
			if d := rl.RetryAfter(identifier); d > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many admin requests. Please try again later.",
			})
			return
		}

		c.Next()
	}
}
