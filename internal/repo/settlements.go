package repo

import (
	"context"
	"database/sql"

	"blueprintcourt/internal/domain"
)

// InsertSettlementTx writes the finalization record for a milestone.
// The primary key on milestone_id makes a second finalization attempt a
// visible no-op: callers check the inserted flag before notifying.
func (r Repo) InsertSettlementTx(ctx context.Context, tx *sql.Tx, s domain.Settlement) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO settlements(milestone_id,dispute_id,outcome,overturned,created_at)
VALUES (?,?,?,?,?) ON CONFLICT(milestone_id) DO NOTHING`,
		s.MilestoneID, s.DisputeID, s.Outcome, s.Overturned, s.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) GetSettlement(ctx context.Context, milestoneID string) (domain.Settlement, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT milestone_id,dispute_id,outcome,overturned,created_at,notified_at FROM settlements WHERE milestone_id=?`, milestoneID)
	return scanSettlement(row.Scan)
}

// ListUnnotifiedSettlements returns settlements whose delivery has not
// been confirmed yet, oldest first.
func (r Repo) ListUnnotifiedSettlements(ctx context.Context, limit int) ([]domain.Settlement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT milestone_id,dispute_id,outcome,overturned,created_at,notified_at
FROM settlements WHERE notified_at IS NULL ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) MarkSettlementNotified(ctx context.Context, milestoneID, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE settlements SET notified_at=? WHERE milestone_id=? AND notified_at IS NULL`, now, milestoneID)
	return err
}

func scanSettlement(scan func(dest ...any) error) (domain.Settlement, error) {
	var s domain.Settlement
	var disputeID, notifiedAt sql.NullString
	err := scan(&s.MilestoneID, &disputeID, &s.Outcome, &s.Overturned, &s.CreatedAt, &notifiedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if disputeID.Valid {
		s.DisputeID = &disputeID.String
	}
	if notifiedAt.Valid {
		s.NotifiedAt = &notifiedAt.String
	}
	return s, nil
}

// ListEvents tails the event log, newest first.
func (r Repo) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListEventsAfter returns events with id greater than cursor, oldest
// first. The event id is the follow cursor for polling consumers.
func (r Repo) ListEventsAfter(ctx context.Context, cursor int64, limit int) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
FROM events WHERE id>? ORDER BY id LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
