package ingest

import (
	"fmt"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewConsumerID creates a consumer name for the Redis consumer group.
// Host and pid keep it readable in XINFO; the ULID suffix keeps restarts apart.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), strings.ToLower(ulid.Make().String()))
}
