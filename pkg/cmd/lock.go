package cmd

import (
	"fmt"
	"log/slog"

	"github.com/loopworks/cadence/pkg/lock"
)

// NewLocker returns the shared-lease implementation when a Redis URL is
// configured, otherwise the in-process locker for single-node deployments.
func NewLocker(redisURL string, logger *slog.Logger) lock.Locker {
	if redisURL == "" {
		return lock.NewMemoryLocker()
	}

	locker, err := lock.NewRedisLocker(redisURL, logger)
	if err != nil {
		panic(fmt.Errorf("failed to create Redis locker: %w", err))
	}

	return locker
}
