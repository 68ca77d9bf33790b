package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/lambdactl/internal/telemetry"
	"github.com/yairfalse/lambdactl/pkg/instance"
)

// RegoQuery is the rule a launch policy must define. The event is the
// policy input, e.g.
//
//	package lambdactl.audit
//
//	launch if input.action == "instance.launch"
const RegoQuery = "data.lambdactl.audit.launch"

// RegoMatcher delegates the launch decision to an OPA policy.
type RegoMatcher struct {
	name   string
	query  rego.PreparedEvalQuery
	logger *telemetry.Logger
	tracer trace.Tracer
}

// LoadRegoMatcher compiles the policy file at path.
func LoadRegoMatcher(ctx context.Context, path string) (*RegoMatcher, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return NewRegoMatcher(ctx, filepath.Base(path), string(src))
}

// NewRegoMatcher compiles a policy module.
func NewRegoMatcher(ctx context.Context, name, module string) (*RegoMatcher, error) {
	m := &RegoMatcher{
		name:   name,
		logger: telemetry.NewLogger("audit-policy"),
		tracer: otel.Tracer("audit-policy"),
	}

	ctx, span := m.tracer.Start(ctx, "audit_policy.load")
	defer span.End()

	prepared, err := rego.New(
		rego.Query(RegoQuery),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy %s: %w", name, err)
	}
	m.query = prepared

	m.logger.WithContext(ctx).Debug().Str("policy_name", name).Msg("policy loaded")
	return m, nil
}

// Match implements Matcher. Evaluation errors count as no match.
func (m *RegoMatcher) Match(ctx context.Context, ev instance.AuditEvent) bool {
	rs, err := m.query.Eval(ctx, rego.EvalInput(policyInput(ev)))
	if err != nil {
		m.logger.WithContext(ctx).Warn().
			Err(err).
			Str("policy_name", m.name).
			Str("action", ev.Action).
			Msg("policy evaluation failed")
		return false
	}
	return rs.Allowed()
}

func policyInput(ev instance.AuditEvent) map[string]any {
	lrns := make([]any, 0, len(ev.ResourceLRNs))
	for _, lrn := range ev.ResourceLRNs {
		lrns = append(lrns, lrn)
	}
	details := ev.Details
	if details == nil {
		details = map[string]any{}
	}
	return map[string]any{
		"id":                 ev.ID,
		"event_time":         instance.FormatTime(ev.Time),
		"action":             ev.Action,
		"resource_type":      ev.ResourceType,
		"resource_lrns":      lrns,
		"additional_details": details,
	}
}
