package audit

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/guillermoBallester/querytuner/internal/core/port"
	"go.opentelemetry.io/otel/trace"
)

// fileEntry is the NDJSON-serializable form of an audit record.
type fileEntry struct {
	Timestamp       string  `json:"ts"`
	TraceID         string  `json:"trace_id,omitempty"`
	Tool            string  `json:"tool"`
	SQL             string  `json:"sql"`
	Fingerprint     string  `json:"fingerprint,omitempty"`
	Stage           string  `json:"stage,omitempty"`
	Success         bool    `json:"success"`
	Provider        string  `json:"provider,omitempty"`
	Recommendations int     `json:"recommendations"`
	BestImprovement float64 `json:"best_improvement_pct"`
	DurationMS      int64   `json:"duration_ms"`
	Error           *string `json:"error"`
}

// FileAuditor writes one NDJSON line per optimization run to a file.
type FileAuditor struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

var _ port.RunAuditor = (*FileAuditor)(nil)

// NewFileAuditor opens (or creates) the file at path for append-only writing.
func NewFileAuditor(path string) (*FileAuditor, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileAuditor{
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

func (a *FileAuditor) Record(ctx context.Context, entry port.AuditEntry) {
	fe := fileEntry{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Tool:            entry.Tool,
		SQL:             entry.SQL,
		Fingerprint:     entry.Fingerprint,
		Stage:           entry.Stage,
		Success:         entry.Success,
		Provider:        entry.Provider,
		Recommendations: entry.Recommendations,
		BestImprovement: entry.BestImprovement,
		DurationMS:      entry.DurationMS,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fe.TraceID = sc.TraceID().String()
	}
	if entry.Err != nil {
		s := entry.Err.Error()
		fe.Error = &s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.enc.Encode(fe) // best-effort; don't fail the run for audit I/O
}

func (a *FileAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// NoopAuditor discards all audit entries.
type NoopAuditor struct{}

func (NoopAuditor) Record(context.Context, port.AuditEntry) {}
func (NoopAuditor) Close() error                            { return nil }
