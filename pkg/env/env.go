// Package env reads the few settings the agent consults before config.Load,
// such as EDUFLOW_AGENT_ID and the LOG_* knobs.
package env

import (
	"os"
	"strconv"
	"strings"
)

// Get returns the trimmed value of key, or fallback when it is unset or blank.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// PositiveInt returns key parsed as an integer greater than zero, or fallback.
func PositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(Get(key, ""))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
