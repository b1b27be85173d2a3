package audit

import (
	"context"
	"errors"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/port"
)

// MultiAuditor fans every record out to several auditors.
type MultiAuditor []port.QueryAuditor

func (m MultiAuditor) Record(ctx context.Context, rec port.AuditRecord) {
	for _, a := range m {
		a.Record(ctx, rec)
	}
}

// Close closes every auditor and joins their errors.
func (m MultiAuditor) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
