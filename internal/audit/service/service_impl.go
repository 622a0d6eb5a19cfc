package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/allocledger/internal/audit/domain"
	"github.com/smallbiznis/allocledger/internal/clock"
	obscontext "github.com/smallbiznis/allocledger/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// AuditLog records one ledger side effect. The actor is the scheduled job
// found on ctx, or the system when there is none.
func (s *Service) AuditLog(ctx context.Context, action, targetType, targetID string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	entry := s.newEntry(ctx, action, targetType, targetID)
	for key, value := range metadata {
		if key != "" {
			entry.Metadata[key] = value
		}
	}

	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		s.log.Warn("audit insert failed",
			zap.String("action", action),
			zap.String("target_type", entry.TargetType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) newEntry(ctx context.Context, action, targetType, targetID string) *auditdomain.AuditLog {
	entry := &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  auditdomain.ActorTypeSystem,
		Action:     action,
		TargetType: strings.TrimSpace(targetType),
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  s.clock.Now().UTC(),
	}
	if entry.TargetType == "" {
		entry.TargetType = "unknown"
	}
	if id := strings.TrimSpace(targetID); id != "" {
		entry.TargetID = &id
	}
	if job, ok := obscontext.JobFromContext(ctx); ok && job.Name != "" {
		actor := job.Name
		if job.RunID != "" {
			actor += ":" + job.RunID
		}
		entry.ActorType = auditdomain.ActorTypeScheduler
		entry.ActorID = &actor
	}
	return entry
}

// List pages through entries newest first. The page token is the id of the
// last entry of the previous page.
func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	filter, err := toFilter(req)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	resp := auditdomain.ListAuditLogResponse{AuditLogs: make([]auditdomain.AuditLog, 0, len(items))}
	for i, item := range items {
		if i == filter.Limit {
			resp.NextPageToken = items[i-1].ID.String()
			break
		}
		resp.AuditLogs = append(resp.AuditLogs, *item)
	}
	return resp, nil
}

func toFilter(req auditdomain.ListAuditLogRequest) (auditdomain.ListFilter, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListFilter{}, auditdomain.ErrInvalidTimeRange
	}

	filter := auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Limit:      min(max(req.PageSize, 0), maxPageSize),
	}
	if filter.Limit == 0 {
		filter.Limit = defaultPageSize
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		id, err := snowflake.ParseString(token)
		if err != nil || id <= 0 {
			return auditdomain.ListFilter{}, auditdomain.ErrInvalidPageToken
		}
		filter.BeforeID = id
	}
	return filter, nil
}
