package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/repositories"
)

const auditEntryIDPrefix = "aud_"

// AuditLogServiceDeps bundles collaborators for the audit log service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewAuditLogService wires dependencies into a concrete AuditLogService.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &auditLogService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Record appends an audit entry. Repository failures are logged and swallowed;
// auditing never blocks or rolls back the primary operation.
func (s *auditLogService) Record(ctx context.Context, record AuditRecord) {
	entry := domain.AuditEntry{
		ID:        auditEntryIDPrefix + s.newID(),
		OrderID:   strings.TrimSpace(record.OrderID),
		EventType: strings.TrimSpace(record.EventType),
		OldValue:  record.OldValue,
		NewValue:  record.NewValue,
		Metadata:  record.Metadata,
		CreatedAt: s.clock(),
	}

	if record.Actor != nil {
		if id := strings.TrimSpace(record.Actor.ID); id != "" {
			entry.ActorID = &id
		}
		if role := strings.TrimSpace(string(record.Actor.Role)); role != "" {
			entry.ActorRole = &role
		}
		if ip := strings.TrimSpace(record.Actor.IP); ip != "" {
			entry.ActorIP = &ip
		}
	}

	if entry.EventType == "" {
		s.logger(ctx, "audit.record.skipped", map[string]any{"order": entry.OrderID})
		return
	}

	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger(ctx, "audit.append.failed", map[string]any{
			"order": entry.OrderID,
			"event": entry.EventType,
			"error": err.Error(),
		})
	}
}

// ListByOrder returns the order's audit trail, newest first.
func (s *auditLogService) ListByOrder(ctx context.Context, orderID string, limit int) ([]AuditEntry, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("audit list: order id is required")
	}
	return s.repo.ListByOrder(ctx, orderID, limit)
}
