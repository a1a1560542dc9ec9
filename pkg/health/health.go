// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package health provides liveness and readiness checks for udptun.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health state of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFunc performs a single named health check.
type CheckFunc func(ctx context.Context) error

// Check is the recorded result of one health check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration"`
}

// Checker runs registered health checks on demand, caching results for
// the configured interval so probes cannot stampede the process.
type Checker struct {
	mu       sync.Mutex
	checks   map[string]CheckFunc
	cache    map[string]*Check
	interval time.Duration
}

// NewChecker creates a checker that reuses cached results younger than
// interval.
func NewChecker(interval time.Duration) *Checker {
	return &Checker{
		checks:   make(map[string]CheckFunc),
		cache:    make(map[string]*Check),
		interval: interval,
	}
}

// Register adds a named check. Re-registering a name replaces it.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Health runs all registered checks (or serves cached results) and
// returns the overall status. Any failing check degrades the overall
// status.
func (c *Checker) Health(ctx context.Context) (Status, []Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	overall := StatusHealthy
	results := make([]Check, 0, len(c.checks))

	for name, fn := range c.checks {
		if cached, ok := c.cache[name]; ok && time.Since(cached.LastChecked) < c.interval {
			if cached.Status != StatusHealthy {
				overall = StatusDegraded
			}
			results = append(results, *cached)
			continue
		}

		start := time.Now()
		err := fn(ctx)

		check := &Check{
			Name:        name,
			LastChecked: time.Now(),
			Duration:    time.Since(start),
		}
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			overall = StatusDegraded
		} else {
			check.Status = StatusHealthy
		}

		c.cache[name] = check
		results = append(results, *check)
	}

	return overall, results
}

// HTTPHandler serves the full health report.
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, checks := c.Health(ctx)

		w.Header().Set("Content-Type", "application/json")
		if status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": status,
			"checks": checks,
		})
	}
}

// ReadinessHandler reports whether the process should receive traffic.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, checks := c.Health(ctx)

		w.Header().Set("Content-Type", "application/json")
		if status != StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": status,
			"checks": checks,
		})
	}
}

// LivenessHandler reports that the process is running at all.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}
