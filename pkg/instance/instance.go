package instance

import (
	"os"

	"github.com/piratar/members-sync/pkg/env"
)

// GetID returns the process instance identifier used in logs. It falls back
// to the hostname, then to a fixed default.
func GetID() string {
	if id := env.Get("MEMBERSYNC_INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "members-sync-0"
}
