package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// envReader turns environment variables into flag defaults. Parse errors are
// collected so one run reports every malformed variable.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key, raw string, err error) {
	e.errs = append(e.errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
}

func (e *envReader) err() error { return errors.Join(e.errs...) }

func (e *envReader) stringOr(key, fallback string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return fallback
}

func envValue[T any](e *envReader, key string, fallback T, parse func(string) (T, error)) T {
	v, ok := e.raw(key)
	if !ok {
		return fallback
	}
	out, err := parse(v)
	if err != nil {
		e.fail(key, v, err)
		return fallback
	}
	return out
}

func (e *envReader) intOr(key string, fallback int) int {
	return envValue(e, key, fallback, strconv.Atoi)
}

func (e *envReader) int64Or(key string, fallback int64) int64 {
	return envValue(e, key, fallback, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
}

func (e *envReader) floatOr(key string, fallback float64) float64 {
	return envValue(e, key, fallback, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func (e *envReader) boolOr(key string, fallback bool) bool {
	return envValue(e, key, fallback, strconv.ParseBool)
}

func (e *envReader) durationOr(key string, fallback time.Duration) time.Duration {
	return envValue(e, key, fallback, time.ParseDuration)
}

func (e *envReader) port(key string) uint {
	return envValue(e, key, 0, func(s string) (uint, error) {
		p, err := parsePort(s)
		return uint(p), err
	})
}

// choice resolves raw against a case-insensitive table of accepted spellings.
func choice[T any](what, raw string, accepted map[string]T, expected string) (T, error) {
	if v, ok := accepted[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q (expected %s)", what, raw, expected)
}
