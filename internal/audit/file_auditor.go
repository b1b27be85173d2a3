package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/port"
)

// FileAuditor appends audit records to a file as NDJSON. Records carry client
// addresses and questions, so the file is created owner-only.
type FileAuditor struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileAuditor opens path for appending, creating it and its directory if
// needed.
func NewFileAuditor(path string) (*FileAuditor, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit file: %w", err)
	}
	return &FileAuditor{file: f, enc: json.NewEncoder(f)}, nil
}

// Record writes one line. Write errors are dropped; an audit sink never
// fails the request it describes.
func (a *FileAuditor) Record(_ context.Context, rec port.AuditRecord) {
	e := toEntry(rec)

	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.enc.Encode(e)
}

func (a *FileAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// NoopAuditor discards all audit records.
type NoopAuditor struct{}

func (NoopAuditor) Record(context.Context, port.AuditRecord) {}
func (NoopAuditor) Close() error                             { return nil }
