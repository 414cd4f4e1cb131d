package store

import (
	"context"

	"licensetrust/pkg/contracts/domain"
)

// AppendAudit writes one audit event.
func (s *Store) AppendAudit(ctx context.Context, e *domain.AuditEvent) error {
	m := &auditModel{
		Actor:         e.Actor,
		Action:        e.Action,
		Success:       e.Success,
		SourceAddress: e.SourceAddress,
		Detail:        e.Detail,
		At:            utc(e.At),
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return internal("append audit", err)
	}
	e.ID = m.ID
	return nil
}

// ListAudit returns the newest events, optionally filtered by action.
func (s *Store) ListAudit(ctx context.Context, action string, limit int) ([]domain.AuditEvent, error) {
	q := s.db.WithContext(ctx).Order("id desc").Limit(limit)
	if action != "" {
		q = q.Where("action = ?", action)
	}

	var rows []auditModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, internal("list audit", err)
	}
	out := make([]domain.AuditEvent, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}
