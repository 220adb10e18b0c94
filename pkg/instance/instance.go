package instance

import (
	"os"

	"github.com/angelmondragon/eduflow-sync/pkg/env"
)

// ID identifies this agent in logs and lock ownership. EDUFLOW_AGENT_ID wins;
// otherwise the hostname is used.
func ID() string {
	if id := env.Get("EDUFLOW_AGENT_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "agent-0"
}
