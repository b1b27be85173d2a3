package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
	"github.com/HArsh-ri01/nl-to-sql/internal/core/port"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// GenericExecutionError is shown to callers instead of database errors.
const GenericExecutionError = "Oops! Something went wrong while trying to get your answer."

// generatorErrorPrefix marks generator output that is a refusal, not SQL.
const generatorErrorPrefix = "ERROR:"

type toolNameKey struct{}

// WithToolName returns a context carrying the entry point name for audit logging.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

func toolNameFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(toolNameKey{}).(string); ok {
		return v
	}
	return ""
}

// Request is one inbound question with the SQL generated for it.
type Request struct {
	Identity string
	Question string
	SQL      string
}

type RemainingRequests struct {
	UserRemaining   int `json:"user_remaining"`
	GlobalRemaining int `json:"global_remaining"`
}

// Response is the pipeline result. Exactly one of Result and Error is set.
type Response struct {
	SQLQuery  string            `json:"sql_query,omitempty"`
	Result    []map[string]any  `json:"result,omitzero"`
	Error     string            `json:"error,omitempty"`
	Remaining RemainingRequests `json:"remaining_requests"`
	Notes     []string          `json:"notes,omitempty"`
}

// QueryServiceConfig tunes the pipeline.
type QueryServiceConfig struct {
	MaxSubqueryDepth int
	// Sanitize repairs duplicate IN-list items and unbalanced parentheses
	// before validation.
	Sanitize bool
	// DryRun admits and validates but never executes.
	DryRun bool
	// DBSystem is reported as the db.system span attribute.
	DBSystem string
}

// QueryService orchestrates admission, SQL validation (domain) and execution
// (infrastructure) for one request, and audits the outcome.
type QueryService struct {
	admission *AdmissionController
	validator port.QueryValidator
	executor  port.QueryExecutor
	auditor   port.QueryAuditor
	cfg       QueryServiceConfig
	logger    *slog.Logger
	tracer    trace.Tracer
	inst      port.Instrumentation
}

func NewQueryService(admission *AdmissionController, validator port.QueryValidator, executor port.QueryExecutor, auditor port.QueryAuditor, cfg QueryServiceConfig, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *QueryService {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}
	return &QueryService{
		admission: admission,
		validator: validator,
		executor:  executor,
		auditor:   auditor,
		cfg:       cfg,
		logger:    logger,
		tracer:    tracer,
		inst:      inst,
	}
}

// Run admits the request, validates its SQL and, if accepted, executes it.
// The returned Response is always non-nil and carries the caller-facing
// message; the error classifies the failure for the transport layer.
func (s *QueryService) Run(ctx context.Context, req Request) (*Response, error) {
	ctx, span := s.tracer.Start(ctx, "QueryService.Run",
		trace.WithAttributes(
			attribute.String("db.system", s.cfg.DBSystem),
			attribute.String("db.operation.name", "query"),
			attribute.String("client.identity", req.Identity),
		),
	)
	defer span.End()

	sql := strings.TrimSpace(req.SQL)
	resp := &Response{SQLQuery: sql}

	admission := s.admission.Admit(ctx, req.Identity)
	if !admission.Allowed {
		resp.SQLQuery = ""
		resp.Error = admissionMessage(admission.Reason)
		resp.Remaining = s.remaining(ctx, req.Identity)
		span.SetStatus(codes.Error, string(admission.Reason))
		return resp, admission.Err
	}
	defer func() { resp.Remaining = s.remaining(ctx, req.Identity) }()

	if strings.HasPrefix(sql, generatorErrorPrefix) {
		resp.Error = strings.TrimSpace(strings.TrimPrefix(sql, generatorErrorPrefix))
		s.audit(ctx, req, sql, auditOutcome{rule: domain.RuleGeneratorError, err: domain.ErrGeneratorRefused})
		return resp, fmt.Errorf("%w: %s", domain.ErrGeneratorRefused, resp.Error)
	}

	if s.cfg.Sanitize {
		if fixed, changes := domain.Sanitize(sql); len(changes) > 0 {
			s.logger.InfoContext(ctx, "query sanitized",
				slog.String("db.statement", sql),
				slog.Any("sanitize.changes", changes),
			)
			sql = fixed
			resp.SQLQuery = sql
		}
	}
	span.SetAttributes(attribute.String("db.statement", sql))

	verdict := s.validator.Validate(sql, s.cfg.MaxSubqueryDepth)
	if !verdict.Accepted {
		s.logger.WarnContext(ctx, "query validation rejected",
			slog.String("db.operation.name", "query"),
			slog.String("db.statement", sql),
			slog.String("error.type", "validation_error"),
			slog.String("validation.rule", string(verdict.Rule)),
			slog.String("validation.detail", verdict.Detail),
		)
		err := verdict.Err()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.inst.IncrementValidationRejected(ctx, string(verdict.Rule))
		s.audit(ctx, req, sql, auditOutcome{rule: verdict.Rule, detail: verdict.Detail, err: err})
		resp.Error = verdict.Reason
		return resp, fmt.Errorf("validation: %w", err)
	}
	resp.Notes = verdict.Notes

	if s.cfg.DryRun {
		s.audit(ctx, req, sql, auditOutcome{})
		resp.Result = []map[string]any{}
		return resp, nil
	}

	start := time.Now()
	results, err := s.executor.Execute(ctx, sql)
	durationMS := time.Since(start).Milliseconds()

	s.inst.RecordQueryDuration(ctx, float64(durationMS))
	s.audit(ctx, req, sql, auditOutcome{rows: len(results), durationMS: durationMS, err: err})

	if err != nil {
		s.logger.ErrorContext(ctx, "query execution failed",
			slog.String("db.statement", sql),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.inst.IncrementQueryErrors(ctx)
		resp.Error = GenericExecutionError
		return resp, fmt.Errorf("%w: %w", domain.ErrExecutionFailed, err)
	}

	s.inst.IncrementQueryCount(ctx)
	span.SetAttributes(attribute.Int("db.response.rows", len(results)))

	if results == nil {
		results = []map[string]any{}
	}
	resp.Result = results
	return resp, nil
}

// Remaining reports the identity's and the global remaining request counts.
func (s *QueryService) Remaining(ctx context.Context, identity string) (RemainingRequests, error) {
	user, err := s.admission.RemainingForIdentity(ctx, identity)
	if err != nil {
		return RemainingRequests{}, err
	}
	global, err := s.admission.RemainingGlobal(ctx)
	if err != nil {
		return RemainingRequests{}, err
	}
	return RemainingRequests{UserRemaining: user, GlobalRemaining: global}, nil
}

func (s *QueryService) remaining(ctx context.Context, identity string) RemainingRequests {
	r, err := s.Remaining(ctx, identity)
	if err != nil {
		s.logger.WarnContext(ctx, "reading remaining quota failed", slog.String("error", err.Error()))
	}
	return r
}

type auditOutcome struct {
	rule       domain.Rule
	detail     string
	rows       int
	durationMS int64
	err        error
}

func (s *QueryService) audit(ctx context.Context, req Request, sql string, o auditOutcome) {
	s.auditor.Record(ctx, port.AuditRecord{
		ID:           uuid.NewString(),
		Tool:         toolNameFromCtx(ctx),
		Identity:     req.Identity,
		Question:     req.Question,
		SQL:          sql,
		Succeeded:    o.err == nil,
		Rule:         o.rule,
		Detail:       o.detail,
		RowsReturned: o.rows,
		DurationMS:   o.durationMS,
		Err:          o.err,
		Timestamp:    time.Now().UTC(),
	})
}

func admissionMessage(reason AdmissionReason) string {
	switch reason {
	case ReasonIdentityQuota:
		return "You have exceeded your daily limit. Please try again tomorrow."
	case ReasonGlobalQuota:
		return "The service has reached its daily request limit. Please try again tomorrow."
	case ReasonInvalidIdentity:
		return "Your client address could not be determined."
	default:
		return "The request could not be admitted right now. Please try again later."
	}
}
