package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/kioskops/kioskops/internal/platform/db"
	"github.com/kioskops/kioskops/internal/shared"
)

// Writer implements Appender and Reader on the audit_actions table.
type Writer struct {
	q db.Querier
}

// NewWriter binds a Writer to a pool or an open transaction.
func NewWriter(q db.Querier) *Writer {
	return &Writer{q: q}
}

// Append inserts one action and returns it with its id and timestamp.
func (w *Writer) Append(ctx context.Context, entry Entry) (Action, error) {
	if err := validateEntry(entry); err != nil {
		return Action{}, err
	}
	action := Action{
		OwnerType:   entry.OwnerType,
		OwnerID:     entry.OwnerID,
		Action:      entry.Action,
		Description: strings.TrimSpace(entry.Description),
		ActorID:     shared.NullableActor(entry.ActorID),
	}
	query := `
		INSERT INTO audit_actions (owner_type, owner_id, action, description, actor_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := w.q.QueryRow(ctx, query,
		action.OwnerType, action.OwnerID, action.Action, action.Description, action.ActorID,
	).Scan(&action.ID, &action.CreatedAt)
	if err != nil {
		return Action{}, shared.Persistence("audit: append", err)
	}
	return action, nil
}

// List returns the actions for an owner ordered by created_at descending.
func (w *Writer) List(ctx context.Context, owner OwnerType, ownerID int64) ([]Action, error) {
	query := `
		SELECT id, owner_type, owner_id, action, description, actor_id, created_at
		FROM audit_actions
		WHERE owner_type = $1 AND owner_id = $2
		ORDER BY created_at DESC, id DESC
	`
	rows, err := w.q.Query(ctx, query, owner, ownerID)
	if err != nil {
		return nil, shared.Persistence("audit: list", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.OwnerType, &a.OwnerID, &a.Action, &a.Description, &a.ActorID, &a.CreatedAt); err != nil {
			return nil, shared.Persistence("audit: scan", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("audit: rows", err)
	}
	return actions, nil
}

func validateEntry(entry Entry) error {
	fields := map[string]string{}
	if !entry.OwnerType.Valid() {
		fields["owner_type"] = fmt.Sprintf("unknown owner type %q", entry.OwnerType)
	}
	if entry.OwnerID <= 0 {
		fields["owner_id"] = "must be greater than 0"
	}
	if strings.TrimSpace(entry.Action) == "" {
		fields["action"] = "is required"
	}
	if len(fields) > 0 {
		return &shared.ValidationError{Fields: fields}
	}
	return nil
}
