package logging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/user"
	"sync"
	"time"

	"hangulkey/internal/escalation"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

// Audit event types.
const (
	AuditEventEscalation   AuditEventType = "escalation"
	AuditEventConfigChange AuditEventType = "config_change"
	AuditEventLoginItem    AuditEventType = "login_item"
)

// Audit results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// AuditEvent is one line of the audit log.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	Component string         `json:"component"`
	User      string         `json:"user,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Result    string         `json:"result"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	// FilePath is the path to the audit log file.
	FilePath string

	// MaxSize is the maximum size in MB before rotation.
	MaxSize int64

	// MaxAge is the maximum age in days before deletion.
	MaxAge int

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int

	// Compress determines if rotated logs should be compressed.
	Compress bool

	// Component is the component name for audit events.
	Component string
}

// AuditLogger appends JSON audit events to a rotated file.
type AuditLogger struct {
	config  *AuditLoggerConfig
	rotator *FileRotator
	user    string
	mu      sync.Mutex
}

// NewAuditLogger opens the audit log at cfg.FilePath.
func NewAuditLogger(cfg *AuditLoggerConfig) (*AuditLogger, error) {
	if cfg == nil || cfg.FilePath == "" {
		return nil, errors.New("audit log path is required")
	}
	if cfg.Component == "" {
		cfg.Component = "hangulkey"
	}

	rotator, err := NewFileRotator(&Config{
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}

	a := &AuditLogger{config: cfg, rotator: rotator}
	if u, err := user.Current(); err == nil {
		a.user = u.Username
	}
	return a, nil
}

// Log writes an audit event.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.User == "" {
		event.User = a.user
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if _, err := a.rotator.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// LogEscalation records one privileged batch and its outcome.
func (a *AuditLogger) LogEscalation(ctx context.Context, op string, steps []string, err error) error {
	event := AuditEvent{
		EventType: AuditEventEscalation,
		Action:    op,
		Result:    ResultSuccess,
		Details:   map[string]any{"steps": steps},
	}
	if err != nil {
		event.Result = ResultFailure
		if errors.Is(err, escalation.ErrPermissionDenied) {
			event.Result = ResultDenied
		}
		var escErr *escalation.Error
		if errors.As(err, &escErr) && escErr.Step > 0 {
			event.Details["failed_step"] = escErr.Step
			event.Details["failed_step_name"] = escErr.Name
		}
		event.Error = err.Error()
	}
	return a.Log(ctx, event)
}

// LogConfigChange records a preference change.
func (a *AuditLogger) LogConfigChange(ctx context.Context, setting, oldValue, newValue string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventConfigChange,
		Action:    "set",
		Resource:  setting,
		Result:    ResultSuccess,
		Details:   map[string]any{"old": oldValue, "new": newValue},
	})
}

// LogLoginItem records a launch-at-login change.
func (a *AuditLogger) LogLoginItem(ctx context.Context, enabled bool, err error) error {
	event := AuditEvent{
		EventType: AuditEventLoginItem,
		Action:    "disable",
		Result:    ResultSuccess,
	}
	if enabled {
		event.Action = "enable"
	}
	if err != nil {
		event.Result = ResultFailure
		event.Error = err.Error()
	}
	return a.Log(ctx, event)
}

// Close closes the audit log file.
func (a *AuditLogger) Close() error {
	return a.rotator.Close()
}
