package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/port"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultSubject is the subject audit events are published on.
const DefaultSubject = "sqlgate.events.audit"

const streamName = "SQLGATE_AUDIT"

// Publisher is the part of jetstream.JetStream the auditor uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSAuditor publishes audit records as JSON events to a JetStream subject.
// Publish failures are logged and never surface to the request.
type NATSAuditor struct {
	js      Publisher
	subject string
	logger  *slog.Logger
	close   func()
	timeout time.Duration
}

// NewNATSAuditor connects to url, ensures a stream covering subject exists
// and returns an auditor publishing to it.
func NewNATSAuditor(ctx context.Context, url, subject string, logger *slog.Logger) (*NATSAuditor, error) {
	nc, err := nats.Connect(url,
		nats.Name("sqlgate-audit"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", slog.Any("error", err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating stream %s: %w", streamName, err)
	}

	a := NewNATSAuditorWithPublisher(js, subject, logger)
	a.close = func() { _ = nc.Drain() }
	return a, nil
}

// NewNATSAuditorWithPublisher wraps an existing publisher.
func NewNATSAuditorWithPublisher(js Publisher, subject string, logger *slog.Logger) *NATSAuditor {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSAuditor{
		js:      js,
		subject: subject,
		logger:  logger,
		close:   func() {},
		timeout: 2 * time.Second,
	}
}

func (a *NATSAuditor) Record(ctx context.Context, rec port.AuditRecord) {
	payload, err := json.Marshal(toEntry(rec))
	if err != nil {
		a.logger.Error("marshaling audit event", slog.String("error", err.Error()))
		return
	}

	// Publishing outlives cancellation of the request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	if _, err := a.js.Publish(ctx, a.subject, payload); err != nil {
		a.logger.WarnContext(ctx, "publishing audit event failed",
			slog.String("messaging.destination", a.subject),
			slog.String("error", err.Error()),
		)
	}
}

func (a *NATSAuditor) Close() error {
	a.close()
	return nil
}
