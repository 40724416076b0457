package csm

import (
	"errors"
	"fmt"
	"time"

	"github.com/acceldata-io/ozone-sub000/lib/cache"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher"
)

// Config holds the tuning knobs of a ContainerStateMachine.
type Config struct {
	WriteWorkers        int                  // Number of payload write workers
	ApplyWorkers        int                  // Number of goroutines applying committed entries
	MaxPendingApply     int                  // Permits of the backpressure semaphore
	CacheBytes          int                  // Byte budget of the leader payload cache
	EvictionPolicy      cache.EvictionPolicy // When acknowledged payloads leave the cache
	RecoverableStatuses dispatcher.StatusSet // Dispatcher statuses that do not affect health
	SnapshotDir         string               // Directory for snapshot files
	SnapshotRetain      int                  // Number of snapshot files kept after a new one was written
	ShutdownTimeout     time.Duration        // Bounded wait for in-flight work on Close
	ReadBytesPerSecond  int                  // Bandwidth limit for disk reconstruction reads, 0 = unlimited
}

// DefaultConfig returns a configuration usable for a single replica.
func DefaultConfig() Config {
	return Config{
		WriteWorkers:        8,
		ApplyWorkers:        16,
		MaxPendingApply:     1024,
		CacheBytes:          64 << 20,
		EvictionPolicy:      cache.MajorityPolicy{},
		RecoverableStatuses: dispatcher.DefaultRecoverableStatuses(),
		SnapshotRetain:      3,
		ShutdownTimeout:     10 * time.Second,
	}
}

// Validate checks the configuration for obviously wrong values.
func (c Config) Validate() error {
	var errs []error
	if c.WriteWorkers < 1 {
		errs = append(errs, fmt.Errorf("write workers must be at least 1, got %d", c.WriteWorkers))
	}
	if c.ApplyWorkers < 1 {
		errs = append(errs, fmt.Errorf("apply workers must be at least 1, got %d", c.ApplyWorkers))
	}
	if c.MaxPendingApply < 1 {
		errs = append(errs, fmt.Errorf("max pending apply must be at least 1, got %d", c.MaxPendingApply))
	}
	if c.CacheBytes < 0 {
		errs = append(errs, fmt.Errorf("cache bytes must not be negative, got %d", c.CacheBytes))
	}
	if c.EvictionPolicy == nil {
		errs = append(errs, errors.New("eviction policy is required"))
	}
	if c.SnapshotRetain < 1 {
		errs = append(errs, fmt.Errorf("snapshot retain must be at least 1, got %d", c.SnapshotRetain))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout))
	}
	if c.ReadBytesPerSecond < 0 {
		errs = append(errs, fmt.Errorf("read bytes per second must not be negative, got %d", c.ReadBytesPerSecond))
	}
	return errors.Join(errs...)
}
