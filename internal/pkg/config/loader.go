// Package config loads settings from environment variables with fail-open
// fallback: an unparseable or invalid value never aborts startup, it falls
// back to the default and produces a warning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadResult is the outcome of loading one value.
type LoadResult[T any] struct {
	Value           T
	Warning         string
	FallbackApplied bool
}

// LoadEnvString returns the variable's value, or defaultValue when unset or
// empty. No validation is applied.
func LoadEnvString(envKey, defaultValue string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	return defaultValue
}

// LoadEnv reads envKey, parses it and validates the result. Unset or empty
// variables yield defaultValue without a warning; parse or validation
// failures yield defaultValue with one.
func LoadEnv[T any](envKey string, defaultValue T, parse func(string) (T, error), validator func(T) error) LoadResult[T] {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return LoadResult[T]{Value: defaultValue}
	}

	value, err := parse(raw)
	if err == nil && validator != nil {
		err = validator(value)
	}
	if err != nil {
		return LoadResult[T]{
			Value:           defaultValue,
			Warning:         fmt.Sprintf("Invalid %s='%s': %v, falling back to default '%v'", envKey, raw, err, defaultValue),
			FallbackApplied: true,
		}
	}
	return LoadResult[T]{Value: value}
}

// LoadEnvWithFallback loads a validated string.
func LoadEnvWithFallback(envKey, defaultValue string, validator func(string) error) LoadResult[string] {
	return LoadEnv(envKey, defaultValue, func(s string) (string, error) { return s, nil }, validator)
}

// LoadEnvDuration loads a Go duration string such as "30s" or "1h30m".
func LoadEnvDuration(envKey string, defaultValue time.Duration, validator func(time.Duration) error) LoadResult[time.Duration] {
	return LoadEnv(envKey, defaultValue, time.ParseDuration, validator)
}

// LoadEnvInt loads a base-10 integer.
func LoadEnvInt(envKey string, defaultValue int, validator func(int) error) LoadResult[int] {
	return LoadEnv(envKey, defaultValue, parseInt, validator)
}

// LoadEnvFloat loads a floating point number.
func LoadEnvFloat(envKey string, defaultValue float64, validator func(float64) error) LoadResult[float64] {
	return LoadEnv(envKey, defaultValue, parseFloat, validator)
}

// LoadEnvBool loads a boolean in any form strconv.ParseBool accepts.
func LoadEnvBool(envKey string, defaultValue bool) LoadResult[bool] {
	return LoadEnv(envKey, defaultValue, parseBool, nil)
}

func parseInt(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer format")
	}
	return v, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number format")
	}
	return v, nil
}

func parseBool(s string) (bool, error) {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid boolean format, expected 'true' or 'false'")
	}
	return v, nil
}

// Loader loads many values and collects their warnings. Fallbacks are
// reported to Metrics when set.
type Loader struct {
	Metrics  *ConfigMetrics
	warnings []string
}

// NewLoader creates a Loader reporting to metrics, which may be nil.
func NewLoader(metrics *ConfigMetrics) *Loader {
	return &Loader{Metrics: metrics}
}

// Warnings returns the warnings collected so far.
func (l *Loader) Warnings() []string {
	return append([]string(nil), l.warnings...)
}

// FallbackApplied reports whether any value fell back to its default.
func (l *Loader) FallbackApplied() bool {
	return len(l.warnings) > 0
}

// Finish records the load in Metrics and returns the warnings.
func (l *Loader) Finish() []string {
	if l.Metrics != nil {
		l.Metrics.RecordLoadTimestamp()
		l.Metrics.SetFallbackActive(l.FallbackApplied())
	}
	return l.Warnings()
}

func (l *Loader) note(envKey, warning string, fallback bool) {
	if !fallback {
		return
	}
	l.warnings = append(l.warnings, warning)
	if l.Metrics != nil {
		l.Metrics.RecordValidationError(envKey)
		l.Metrics.RecordFallback(envKey)
	}
}

// String loads a validated string.
func (l *Loader) String(envKey, defaultValue string, validator func(string) error) string {
	r := LoadEnvWithFallback(envKey, defaultValue, validator)
	l.note(envKey, r.Warning, r.FallbackApplied)
	return r.Value
}

// Duration loads a validated duration.
func (l *Loader) Duration(envKey string, defaultValue time.Duration, validator func(time.Duration) error) time.Duration {
	r := LoadEnvDuration(envKey, defaultValue, validator)
	l.note(envKey, r.Warning, r.FallbackApplied)
	return r.Value
}

// Int loads a validated integer.
func (l *Loader) Int(envKey string, defaultValue int, validator func(int) error) int {
	r := LoadEnvInt(envKey, defaultValue, validator)
	l.note(envKey, r.Warning, r.FallbackApplied)
	return r.Value
}

// Float loads a validated float.
func (l *Loader) Float(envKey string, defaultValue float64, validator func(float64) error) float64 {
	r := LoadEnvFloat(envKey, defaultValue, validator)
	l.note(envKey, r.Warning, r.FallbackApplied)
	return r.Value
}

// Bool loads a boolean.
func (l *Loader) Bool(envKey string, defaultValue bool) bool {
	r := LoadEnvBool(envKey, defaultValue)
	l.note(envKey, r.Warning, r.FallbackApplied)
	return r.Value
}
