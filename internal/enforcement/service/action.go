package service

import (
	"context"

	auditdomain "github.com/smallbiznis/allocledger/internal/audit/domain"
	enforcementdomain "github.com/smallbiznis/allocledger/internal/enforcement/domain"
	obslogger "github.com/smallbiznis/allocledger/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// LogAction only records the decision. Deployments that suspend or limit
// resources provide their own enforcementdomain.Action.
type LogAction struct {
	log *zap.Logger
}

func NewLogAction(log *zap.Logger) enforcementdomain.Action {
	return &LogAction{log: log.Named("enforcement.action")}
}

func (a *LogAction) Enforce(ctx context.Context, decision enforcementdomain.Decision) error {
	obslogger.WithContext(ctx, a.log).Info("enforcement.triggered",
		zap.String("username", decision.Target.Username),
		zap.String("allocation_source", decision.Target.AllocationSourceName),
		zap.String("override", string(decision.Override)),
		zap.String("reason", decision.Reason),
		zap.String("compute_used", decision.Target.ComputeUsed.String()),
		zap.String("compute_allowed", decision.Target.ComputeAllowed.String()),
	)
	return nil
}

const (
	AuditActionEnforce = "enforcement.enforce"
	AuditTargetType    = "user_allocation_source"
)

// AuditAction writes an audit entry for every decision it forwards to next.
// The entry is written after next succeeds.
type AuditAction struct {
	next  enforcementdomain.Action
	audit auditdomain.Service
}

func NewAuditAction(next enforcementdomain.Action, audit auditdomain.Service) enforcementdomain.Action {
	return &AuditAction{next: next, audit: audit}
}

func (a *AuditAction) Enforce(ctx context.Context, decision enforcementdomain.Decision) error {
	if err := a.next.Enforce(ctx, decision); err != nil {
		return err
	}
	target := decision.Target
	return a.audit.AuditLog(ctx, AuditActionEnforce, AuditTargetType,
		target.Username+"/"+target.AllocationSourceName,
		map[string]any{
			"override":        string(decision.Override),
			"reason":          decision.Reason,
			"compute_used":    target.ComputeUsed.String(),
			"compute_allowed": target.ComputeAllowed.String(),
		},
	)
}

type actionParams struct {
	fx.In

	Log   *zap.Logger
	Audit auditdomain.Service `optional:"true"`
}

// ProvideAction logs every decision and audits it when an audit service is
// wired.
func ProvideAction(p actionParams) enforcementdomain.Action {
	action := NewLogAction(p.Log)
	if p.Audit == nil {
		return action
	}
	return NewAuditAction(action, p.Audit)
}
