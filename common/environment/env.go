// Package environment reads process configuration from environment variables.
//
// Every helper returns either the parsed value or a caller-supplied default;
// unparsable values fall back to the default rather than failing. Required
// variables return an error so that only main decides whether to exit.
package environment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments ".env" in the working directory is
// tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// String returns the named variable and whether it was set at all.
func String(name string) (string, bool) {
	return os.LookupEnv(name)
}

// StringOr returns the named variable or defaultValue when it is unset or empty.
func StringOr(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultValue
}

// RequiredString returns the named variable or an error if it is unset or empty.
func RequiredString(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// parsed reads name through parse, returning defaultValue when the variable
// is empty or does not parse.
func parsed[T any](name string, defaultValue T, parse func(string) (T, error)) T {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultValue
	}
	out, err := parse(v)
	if err != nil {
		return defaultValue
	}
	return out
}

// BoolOr parses the named variable with strconv.ParseBool.
func BoolOr(name string, defaultValue bool) bool {
	return parsed(name, defaultValue, strconv.ParseBool)
}

// IntOr parses the named variable as a decimal integer.
func IntOr(name string, defaultValue int) int {
	return parsed(name, defaultValue, strconv.Atoi)
}

// FloatOr parses the named variable as a 64-bit float.
func FloatOr(name string, defaultValue float64) float64 {
	return parsed(name, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// DurationOr parses the named variable with time.ParseDuration ("30s", "5m").
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	return parsed(name, defaultValue, time.ParseDuration)
}

// StringSliceOr splits the named variable on commas, trimming each element
// and dropping empty ones. defaultValue is returned when nothing remains.
func StringSliceOr(name string, defaultValue []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	var result []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
