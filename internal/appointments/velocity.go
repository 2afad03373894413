package appointments

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/carelane/clinic-api/pkg/logging"
)

// VelocityChecker limits how many bookings one phone number may create
// inside a rolling window. It is an abuse guard, not a capacity control.
type VelocityChecker struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

// VelocityConfig contains velocity check configuration.
type VelocityConfig struct {
	MaxBookingsPerPhone int
	Window              time.Duration
	Enabled             bool
}

// DefaultVelocityConfig returns the default booking limits.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		MaxBookingsPerPhone: 5,
		Window:              24 * time.Hour,
		Enabled:             true,
	}
}

// VelocityResult contains the result of a velocity check.
type VelocityResult struct {
	Allowed      bool
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

// NewVelocityChecker creates a velocity checker. A nil redis client disables
// the check.
func NewVelocityChecker(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	return &VelocityChecker{
		redis:  redisClient,
		logger: logger,
		config: config,
	}
}

// CheckBooking counts the attempt and reports whether the phone is still
// under its limit. Redis failures fail open: a broken limiter must never
// block legitimate bookings.
func (v *VelocityChecker) CheckBooking(ctx context.Context, phone string) (*VelocityResult, error) {
	if v == nil || v.redis == nil || !v.config.Enabled {
		return &VelocityResult{Allowed: true}, nil
	}

	ctx, span := tracer.Start(ctx, "velocity.check_booking")
	defer span.End()

	key := fmt.Sprintf("velocity:booking:%s", phone)
	count, expiry, err := v.incrementAndGet(ctx, key, v.config.Window)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		return &VelocityResult{Allowed: true, Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxBookingsPerPhone,
		CurrentCount: count,
		MaxAllowed:   v.config.MaxBookingsPerPhone,
		WindowExpiry: expiry,
	}
	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d bookings in %s", v.config.MaxBookingsPerPhone, v.config.Window)
		v.logger.Warn("booking velocity exceeded",
			"phone", phone,
			"count", count,
			"max", v.config.MaxBookingsPerPhone,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}
	return result, nil
}

// Reset clears the booking counter for a phone (admin use).
func (v *VelocityChecker) Reset(ctx context.Context, phone string) error {
	if v == nil || v.redis == nil {
		return nil
	}
	return v.redis.Del(ctx, fmt.Sprintf("velocity:booking:%s", phone)).Err()
}

// incrementAndGet increments a counter and returns the new value with its
// window expiry.
func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	// Expiry starts with the first attempt in the window.
	if count == 1 {
		v.redis.Expire(ctx, key, window)
	}

	ttl, err := v.redis.TTL(ctx, key).Result()
	if err != nil {
		ttl = window
	}
	return int(count), time.Now().Add(ttl), nil
}
