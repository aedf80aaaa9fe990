package repo

import (
	"context"
	"database/sql"
	"errors"

	"blueprintcourt/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,title,creator_id,status,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Title, p.CreatorID, p.Status, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,title,creator_id,status,created_at FROM projects WHERE id=?`, id)
	var p domain.Project
	err := row.Scan(&p.ID, &p.Title, &p.CreatorID, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,creator_id,status,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Title, &p.CreatorID, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

const milestoneCols = `id,project_id,title,COALESCE(target_date,''),status,result_reported,reported_outcome,evidence_url,evidence_note,in_dispute,challenge_deadline,final_outcome,created_at,updated_at`

func scanMilestone(scan func(dest ...any) error) (domain.Milestone, error) {
	var m domain.Milestone
	var reported, final sql.NullBool
	var evidenceURL, evidenceNote, deadline sql.NullString
	err := scan(&m.ID, &m.ProjectID, &m.Title, &m.TargetDate, &m.Status, &m.ResultReported,
		&reported, &evidenceURL, &evidenceNote, &m.InDispute, &deadline, &final, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if reported.Valid {
		m.ReportedOutcome = &reported.Bool
	}
	if evidenceURL.Valid {
		m.EvidenceURL = &evidenceURL.String
	}
	if evidenceNote.Valid {
		m.EvidenceNote = &evidenceNote.String
	}
	if deadline.Valid {
		m.ChallengeDeadline = &deadline.String
	}
	if final.Valid {
		m.FinalOutcome = &final.Bool
	}
	return m, nil
}

func (r Repo) InsertMilestoneTx(ctx context.Context, tx *sql.Tx, m domain.Milestone) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO milestones(id,project_id,title,target_date,status,result_reported,in_dispute,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.Title, nullable(m.TargetDate), m.Status, m.ResultReported, m.InDispute, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetMilestone(ctx context.Context, id string) (domain.Milestone, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+milestoneCols+` FROM milestones WHERE id=?`, id)
	return scanMilestone(row.Scan)
}

func (r Repo) ListMilestones(ctx context.Context, projectID string) ([]domain.Milestone, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+milestoneCols+` FROM milestones WHERE project_id=? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MarkReportedTx records the creator's result and opens the challenge
// window. The status precondition makes a double report lose the race.
func (r Repo) MarkReportedTx(ctx context.Context, tx *sql.Tx, id string, outcome bool, evidenceURL, evidenceNote *string, deadline, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE milestones SET status='locked',result_reported=1,reported_outcome=?,evidence_url=?,evidence_note=?,challenge_deadline=?,updated_at=?
WHERE id=? AND status='pending' AND result_reported=0`,
		outcome, evidenceURL, evidenceNote, deadline, now, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SetInDisputeTx flips the dispute flag while the milestone is still in
// its challenge window.
func (r Repo) SetInDisputeTx(ctx context.Context, tx *sql.Tx, id string, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE milestones SET in_dispute=1,updated_at=? WHERE id=? AND status='locked' AND in_dispute=0`, now, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// FinalizeMilestoneTx moves a locked milestone to its terminal status.
// Guarded by the locked-status precondition so racing finalizers cannot
// both take effect.
func (r Repo) FinalizeMilestoneTx(ctx context.Context, tx *sql.Tx, id string, outcome bool, now string) error {
	status := "failed"
	if outcome {
		status = "completed"
	}
	res, err := tx.ExecContext(ctx, `UPDATE milestones SET status=?,final_outcome=?,in_dispute=0,updated_at=? WHERE id=? AND status='locked'`,
		status, outcome, now, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListChallengeExpired returns milestones whose challenge window has
// passed with no dispute opened.
func (r Repo) ListChallengeExpired(ctx context.Context, now string) ([]domain.Milestone, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+milestoneCols+` FROM milestones
WHERE status='locked' AND in_dispute=0 AND challenge_deadline IS NOT NULL AND challenge_deadline<=?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
