package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/photoclip/smoothie/internal/cache"
	"github.com/photoclip/smoothie/internal/logger"
	"github.com/photoclip/smoothie/internal/storage"
)

const checkInterval = 10 * time.Second
const checkTimeout = 8 * time.Second

// healthCheckKey is never written to the disk cache
const healthCheckKey = "healthcheck"

// Checker is a periodic health checker for the backends of the pipeline
type Checker struct {
	Ctx     context.Context
	Storage storage.Provider
	ImageID string // Image ID to use when fetching an image from storage. Only needed for checking storage health
	Cache   cache.Provider
	Log     *logger.Logger
	status  Status
	mutex   sync.RWMutex
}

// Status contains the healtcheck status
type Status struct {
	Healthy bool   `json:"healthy"`
	Cache   string `json:"cache,omitempty"`
	Storage string `json:"storage,omitempty"`
}

// Failing returns the names of the backends that failed their last check
func (s Status) Failing() []string {
	var failing []string
	if s.Cache == "unhealthy" {
		failing = append(failing, "cache")
	}
	if s.Storage == "unhealthy" {
		failing = append(failing, "storage")
	}
	return failing
}

// Run starts the health checker
func (c *Checker) Run() {
	ticker := time.NewTicker(checkInterval)
	go func() {
		for {
			select {
			case <-ticker.C:
				c.runCheck()
			case <-c.Ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()

	c.runCheck()
}

// Status returns the status of the health checks
func (c *Checker) Status() Status {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.status
}

func (c *Checker) unknown() Status {
	status := Status{}
	if c.Cache != nil {
		status.Cache = "unknown"
	}
	if c.Storage != nil {
		status.Storage = "unknown"
	}
	return status
}

func (c *Checker) runCheck() {
	ctx, cancel := context.WithTimeout(c.Ctx, checkTimeout)
	defer cancel()

	channel := make(chan Status, 1)
	go c.check(ctx, channel)

	select {
	case <-ctx.Done():
		c.mutex.Lock()
		c.status = c.unknown()
		c.mutex.Unlock()

		c.Log.Errorw("healthcheck timed out")
	case status, ok := <-channel:
		if !ok {
			return
		}

		c.mutex.Lock()
		c.status = status
		c.mutex.Unlock()

		if !status.Healthy {
			c.Log.Errorw("healthcheck error",
				"status", status,
			)
		}
	}
}

func (c *Checker) check(ctx context.Context, channel chan Status) {
	defer close(channel)

	status := c.unknown()
	status.Healthy = true

	if c.Cache != nil {
		if err := c.checkCache(ctx); err != nil {
			c.Log.Debugw("cache healthcheck failed", "error", err)
			status.Healthy = false
			status.Cache = "unhealthy"
		} else {
			status.Cache = "healthy"
		}
	}

	if ctx.Err() != nil {
		return
	}

	if c.Storage != nil {
		if _, err := c.Storage.Get(ctx, c.ImageID); err != nil {
			c.Log.Debugw("storage healthcheck failed", "error", err)
			status.Healthy = false
			status.Storage = "unhealthy"
		} else {
			status.Storage = "healthy"
		}
	}

	if ctx.Err() != nil {
		return
	}

	channel <- status
}

// checkCache expects a miss, anything else means the cache is unreachable or misbehaving
func (c *Checker) checkCache(ctx context.Context) error {
	_, err := c.Cache.Get(ctx, healthCheckKey)
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}

	if err == nil {
		return fmt.Errorf("unexpected hit for %s", healthCheckKey)
	}

	return err
}
