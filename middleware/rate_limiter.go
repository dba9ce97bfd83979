package middleware

import (
	"time"

	"followmail/handlers/api"
	"followmail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter allows each client IP a burst of requests, refilled evenly over
// duration. Limiters idle for ten minutes are evicted.
func RateLimiter(requests int, duration time.Duration) fiber.Handler {
	if requests <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	limiters := cache.New(10*time.Minute, 5*time.Minute)
	every := rate.Every(duration / time.Duration(requests))

	return func(c *fiber.Ctx) error {
		ip := c.IP()

		var limiter *rate.Limiter
		if v, ok := limiters.Get(ip); ok {
			limiter = v.(*rate.Limiter)
		} else {
			limiter = rate.NewLimiter(every, requests)
			// Another request may have stored one first
			if err := limiters.Add(ip, limiter, cache.DefaultExpiration); err != nil {
				if v, ok := limiters.Get(ip); ok {
					limiter = v.(*rate.Limiter)
				}
			}
		}
		// Sliding idle expiry
		limiters.Set(ip, limiter, cache.DefaultExpiration)

		if !limiter.Allow() {
			utils.Log.Warn("Rate limit exceeded for %s on %s", ip, c.Path())
			msg := utils.T(api.Localizer(c), "rate_limited")
			if api.IsAPIRequest(c) {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": msg})
			}
			return c.Status(fiber.StatusTooManyRequests).SendString(msg)
		}

		return c.Next()
	}
}
