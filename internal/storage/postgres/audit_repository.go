package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clavis-id/clavis/internal/audit"
)

// AuditRepository implements audit.Store. Insert-only: the journal table
// has no update or delete path anywhere in the codebase.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Insert(ctx context.Context, event *audit.Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_events (id, actor_id, session_id, tenant_id, action,
			resource_type, resource_id, details, ip_address, user_agent,
			success, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		event.ID, event.ActorID, event.SessionID, event.TenantID, event.Action,
		event.ResourceType, event.ResourceID, event.Details, event.IPAddress,
		event.UserAgent, event.Success, event.ErrorMessage, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]audit.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, session_id, tenant_id, action, resource_type,
			resource_id, details, ip_address, user_agent, success,
			error_message, created_at
		FROM audit_events
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(&e.ID, &e.ActorID, &e.SessionID, &e.TenantID,
			&e.Action, &e.ResourceType, &e.ResourceID, &e.Details,
			&e.IPAddress, &e.UserAgent, &e.Success, &e.ErrorMessage,
			&e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
