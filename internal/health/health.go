// Package health runs the environment checks behind "hangulkey doctor":
// the tools the installer shells out to, the directories it writes, and the
// permissions key capture needs.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"hangulkey/internal/security"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component works with a fallback.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown indicates the check has not run.
	StatusUnknown Status = "unknown"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
	Error    string         `json:"error,omitempty"`
}

// Check is a function that performs a health check.
type Check func(ctx context.Context) CheckResult

// Component represents a health-checkable component.
type Component struct {
	Name     string
	Critical bool // If true, failure makes overall status unhealthy
	Check    Check
	Timeout  time.Duration
}

// Report is the outcome of one Run.
type Report struct {
	Status  Status
	Results []NamedResult
}

// NamedResult pairs a component name with its result.
type NamedResult struct {
	Name     string
	Critical bool
	CheckResult
}

// Checker runs registered components.
type Checker struct {
	mu         sync.Mutex
	components []*Component
}

// NewChecker creates a new Checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Register adds a component. Components run in registration order for
// reporting but concurrently for execution.
func (c *Checker) Register(component *Component) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if component.Timeout == 0 {
		component.Timeout = 5 * time.Second
	}
	c.components = append(c.components, component)
}

// RegisterFunc registers a simple health check function.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// Run executes every check and aggregates the results.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.Lock()
	components := append([]*Component(nil), c.components...)
	c.mu.Unlock()

	results := make([]NamedResult, len(components))
	var wg sync.WaitGroup

	for i, comp := range components {
		wg.Add(1)
		go func(i int, comp *Component) {
			defer wg.Done()
			results[i] = NamedResult{
				Name:        comp.Name,
				Critical:    comp.Critical,
				CheckResult: runOne(ctx, comp),
			}
		}(i, comp)
	}
	wg.Wait()

	return Report{Status: aggregate(results), Results: results}
}

func runOne(ctx context.Context, comp *Component) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	resultCh := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- CheckResult{
					Status:  StatusUnhealthy,
					Message: "check panicked",
					Error:   fmt.Sprintf("%v", r),
				}
			}
		}()
		resultCh <- comp.Check(checkCtx)
	}()

	var result CheckResult
	select {
	case result = <-resultCh:
	case <-checkCtx.Done():
		result = CheckResult{
			Status:  StatusUnhealthy,
			Message: "check timed out",
			Error:   checkCtx.Err().Error(),
		}
	}
	result.Duration = time.Since(start)
	return result
}

func aggregate(results []NamedResult) Status {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			if r.Critical {
				return StatusUnhealthy
			}
			status = StatusDegraded
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// Failed returns the names of components that are not healthy, sorted.
func (r Report) Failed() []string {
	var out []string
	for _, res := range r.Results {
		if res.Status != StatusHealthy {
			out = append(out, res.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Common checks.

// ExecutableCheck passes when path is a regular file with an execute bit.
func ExecutableCheck(path string) Check {
	return func(ctx context.Context) CheckResult {
		details := map[string]any{"path": path}
		info, err := os.Stat(path)
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "not found", Details: details, Error: err.Error()}
		}
		if !info.Mode().IsRegular() || info.Mode().Perm()&0111 == 0 {
			return CheckResult{Status: StatusUnhealthy, Message: "not executable", Details: details}
		}
		return CheckResult{Status: StatusHealthy, Message: "ok", Details: details}
	}
}

// WritableCheck reports whether dir accepts writes from this user. A
// read-only directory is degraded when fallback describes a workaround.
func WritableCheck(dir, fallback string) Check {
	return func(ctx context.Context) CheckResult {
		details := map[string]any{"path": dir}
		if security.IsWritable(dir) {
			return CheckResult{Status: StatusHealthy, Message: "writable", Details: details}
		}
		if fallback != "" {
			return CheckResult{Status: StatusDegraded, Message: fallback, Details: details}
		}
		return CheckResult{Status: StatusUnhealthy, Message: "not writable", Details: details}
	}
}

// DirectoryCheck passes when path exists and is a directory.
func DirectoryCheck(path string) Check {
	return func(ctx context.Context) CheckResult {
		details := map[string]any{"path": path}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return CheckResult{Status: StatusDegraded, Message: "missing; created on install", Details: details}
			}
			return CheckResult{Status: StatusUnhealthy, Message: "unreadable", Details: details, Error: err.Error()}
		}
		if !info.IsDir() {
			return CheckResult{Status: StatusUnhealthy, Message: "not a directory", Details: details}
		}
		return CheckResult{Status: StatusHealthy, Message: "ok", Details: details}
	}
}

// DatabaseCheck returns a health check for database connectivity.
func DatabaseCheck(pingFunc func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := pingFunc(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "database connection failed",
				Error:   err.Error(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "database connection ok"}
	}
}

// CustomCheck creates a check from a simple function. A non-nil error
// maps to failStatus.
func CustomCheck(failStatus Status, fn func() (string, error)) Check {
	return func(ctx context.Context) CheckResult {
		msg, err := fn()
		if err != nil {
			return CheckResult{Status: failStatus, Message: msg, Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy, Message: msg}
	}
}
