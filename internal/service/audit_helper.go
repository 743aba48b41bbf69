package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
)

type auditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// AuditMeta carries request attributes recorded alongside audit entries.
type AuditMeta struct {
	ActorID   string
	IP        string
	UserAgent string
}

// recordAudit writes an audit entry. Failures are logged and swallowed.
func recordAudit(ctx context.Context, repo auditWriter, logger *zap.Logger, meta AuditMeta, action, resource, resourceID string, oldValues, newValues interface{}) {
	if repo == nil {
		return
	}
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		Resource:  resource,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: time.Now().UTC(),
	}
	if meta.ActorID != "" {
		actor := meta.ActorID
		entry.UserID = &actor
	}
	if resourceID != "" {
		rid := resourceID
		entry.ResourceID = &rid
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := repo.Create(ctx, entry); err != nil {
		logger.Warn("failed to write audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}
