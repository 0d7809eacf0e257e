package registry

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Audit event names.
const (
	AuditRegistered    = "registered"
	AuditDeregistered  = "deregistered"
	AuditStatusChanged = "status_changed"
)

// AuditEntry is one newline-delimited JSON record in the audit log.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Details   map[string]any `json:"details,omitempty"`
}

// AuditLog is the append-only record of registrations, deregistrations, and
// status transitions. It exists for diagnosing races and specialist churn
// after the fact; nothing in the mesh reads it back.
type AuditLog struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewAuditLog creates an audit log writing to path.
func NewAuditLog(path string, logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog{path: path, logger: logger}
}

// Append writes one entry. Audit failures are logged and swallowed: the log
// is diagnostic, and a full disk must not block registration.
func (a *AuditLog) Append(id, event string, details map[string]any) {
	entry := AuditEntry{
		Timestamp: time.Now().UTC(),
		ID:        id,
		Event:     event,
		Details:   details,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		a.logger.Warn("audit entry not serializable", "id", id, "event", event, "error", err)
		return
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		a.logger.Warn("audit log open failed", "path", a.path, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		a.logger.Warn("audit log write failed", "path", a.path, "error", err)
	}
}
