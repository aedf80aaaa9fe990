package repo

import (
	"context"
	"database/sql"

	"blueprintcourt/internal/domain"
)

const disputeCols = `id,milestone_id,challenger_id,reason,tier,status,voting_deadline,outcome,created_at,resolved_at`

func scanDispute(scan func(dest ...any) error) (domain.Dispute, error) {
	var d domain.Dispute
	var outcome sql.NullBool
	var resolvedAt sql.NullString
	err := scan(&d.ID, &d.MilestoneID, &d.ChallengerID, &d.Reason, &d.Tier, &d.Status,
		&d.VotingDeadline, &outcome, &d.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if outcome.Valid {
		d.Outcome = &outcome.Bool
	}
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.String
	}
	return d, nil
}

func (r Repo) InsertDisputeTx(ctx context.Context, tx *sql.Tx, d domain.Dispute) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO disputes(id,milestone_id,challenger_id,reason,tier,status,voting_deadline,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.MilestoneID, d.ChallengerID, d.Reason, d.Tier, d.Status, d.VotingDeadline, d.CreatedAt)
	return err
}

func (r Repo) GetDispute(ctx context.Context, id string) (domain.Dispute, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+disputeCols+` FROM disputes WHERE id=?`, id)
	return scanDispute(row.Scan)
}

// ActiveDisputeForMilestone returns the milestone's live dispute, if any.
func (r Repo) ActiveDisputeForMilestone(ctx context.Context, milestoneID string) (domain.Dispute, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+disputeCols+` FROM disputes WHERE milestone_id=? AND status='voting' LIMIT 1`, milestoneID)
	return scanDispute(row.Scan)
}

func (r Repo) ListActiveDisputes(ctx context.Context, tierFilter string) ([]domain.Dispute, error) {
	query := `SELECT ` + disputeCols + ` FROM disputes WHERE status='voting'`
	var args []any
	if tierFilter != "" {
		query += ` AND tier=?`
		args = append(args, tierFilter)
	}
	query += ` ORDER BY voting_deadline`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ListVotingExpired returns disputes whose voting deadline has passed.
func (r Repo) ListVotingExpired(ctx context.Context, now string) ([]domain.Dispute, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+disputeCols+` FROM disputes WHERE status='voting' AND voting_deadline<=?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// ResolveDisputeTx moves a voting dispute into its terminal status. The
// status precondition ensures only one finalizer wins a race.
func (r Repo) ResolveDisputeTx(ctx context.Context, tx *sql.Tx, id, status string, outcome bool, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE disputes SET status=?,outcome=?,resolved_at=? WHERE id=? AND status='voting'`,
		status, outcome, now, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) StakeForDispute(ctx context.Context, disputeID string) (domain.Stake, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,dispute_id,owner_id,amount,state,created_at,settled_at FROM stakes WHERE dispute_id=?`, disputeID)
	return scanStake(row.Scan)
}

func scanStake(scan func(dest ...any) error) (domain.Stake, error) {
	var s domain.Stake
	var settledAt sql.NullString
	err := scan(&s.ID, &s.DisputeID, &s.OwnerID, &s.Amount, &s.State, &s.CreatedAt, &settledAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if settledAt.Valid {
		s.SettledAt = &settledAt.String
	}
	return s, nil
}

// UpsertBallotTx records a vote, replacing any earlier ballot by the
// same voter on the same dispute.
func (r Repo) UpsertBallotTx(ctx context.Context, tx *sql.Tx, b domain.Ballot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ballots(dispute_id,voter_id,choice,weight,cast_at) VALUES (?,?,?,?,?)
ON CONFLICT(dispute_id,voter_id) DO UPDATE SET choice=excluded.choice,weight=excluded.weight,cast_at=excluded.cast_at`,
		b.DisputeID, b.VoterID, b.Choice, b.Weight, b.CastAt)
	return err
}

func (r Repo) ListBallots(ctx context.Context, disputeID string) ([]domain.Ballot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT dispute_id,voter_id,choice,weight,cast_at FROM ballots WHERE dispute_id=? ORDER BY voter_id`, disputeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Ballot
	for rows.Next() {
		var b domain.Ballot
		if err := rows.Scan(&b.DisputeID, &b.VoterID, &b.Choice, &b.Weight, &b.CastAt); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) CountBallots(ctx context.Context, disputeID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM ballots WHERE dispute_id=?`, disputeID).Scan(&n)
	return n, err
}
