package instance

import (
	"fmt"
	"os"

	"github.com/angelmondragon/keydrop-backend/pkg/env"
)

// GetID identifies this process in job claims and lock values.
// KEYDROP_INSTANCE_ID wins; otherwise hostname-pid.
func GetID() string {
	if id := env.Get("KEYDROP_INSTANCE_ID", ""); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
