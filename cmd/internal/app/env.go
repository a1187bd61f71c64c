package app

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envSource reads typed settings from viper (process env first, then .env).
// Malformed values fall back to the default instead of failing startup.
type envSource struct {
	v *viper.Viper
}

func (e envSource) raw(key string) string {
	return strings.TrimSpace(e.v.GetString(key))
}

// String reads a string setting with a default.
func (e envSource) String(key, def string) string {
	v := e.raw(key)
	if v == "" {
		return def
	}
	return v
}

// Bool reads a bool setting with a default.
func (e envSource) Bool(key string, def bool) bool {
	v := e.raw(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int reads a non-negative int setting with a default. Zero is kept so
// operators can disable limits.
func (e envSource) Int(key string, def int) int {
	v := e.raw(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// Int32 reads an int32 setting with a default.
func (e envSource) Int32(key string, def int32) int32 {
	v := e.raw(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		return def
	}
	return int32(n)
}

// Uint32 reads a positive uint32 setting with a default.
func (e envSource) Uint32(key string, def uint32) uint32 {
	v := e.raw(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil || n == 0 {
		return def
	}
	return uint32(n)
}

// Duration reads a duration setting with a default. "0" is accepted and
// means disabled where the consumer supports it.
func (e envSource) Duration(key string, def time.Duration) time.Duration {
	v := e.raw(key)
	if v == "" {
		return def
	}
	if v == "0" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// List reads a comma-separated setting. Empty items are dropped.
func (e envSource) List(key string, def []string) []string {
	v := e.raw(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
