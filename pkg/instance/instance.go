package instance

import "os"

// GetID returns the process instance identifier used to tag logs and
// outbox claims.
func GetID() string {
	for _, key := range []string{"WORKER_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
