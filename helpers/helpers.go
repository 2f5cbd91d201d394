package helpers

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	NotFound     = "not found"
	ServerError  = "server error"
	OK           = "OK"
	Unauthorized = "unauthorized"
)

// Simple404 sets a quick and easy 404 gin response
func Simple404(c *gin.Context) {
	c.Data(404, "text/plain", []byte(NotFound))
}

// Simple500 sets a quick and easy 500 gin response
func Simple500(c *gin.Context) {
	c.Data(500, "text/plain", []byte(ServerError))
}

// Simple403 sets a quick and easy 403 gin response
func Simple403(c *gin.Context) {
	c.Data(403, "text/plain", []byte(Unauthorized))
}

// FormatCents renders an amount in cents as dollars, e.g. 2000 -> "$20.00"
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%v$%d.%02d", sign, cents/100, cents%100)
}

// ParseDollars converts a user supplied dollar amount such as "20" or
// "19.99" into cents. Anything finer than a cent is rounded.
func ParseDollars(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	cents := math.Round(f * 100)
	if math.Abs(cents) >= math.MaxInt64 {
		return 0, fmt.Errorf("amount %q is too large", s)
	}
	return int64(cents), nil
}

// Mask hides everything but the last four characters of an identifier
func Mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	stars := len(s) - 4
	if stars > 8 {
		stars = 8
	}
	return strings.Repeat("*", stars) + s[len(s)-4:]
}
