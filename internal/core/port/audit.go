package port

import "context"

// AuditEntry represents a single auditable optimization event.
type AuditEntry struct {
	Tool            string
	SQL             string
	Fingerprint     string
	Stage           string
	Success         bool
	Provider        string
	Recommendations int
	BestImprovement float64
	DurationMS      int64
	Err             error
}

// RunAuditor records optimization audit events.
type RunAuditor interface {
	Record(ctx context.Context, entry AuditEntry)
	Close() error
}
