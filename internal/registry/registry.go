// Package registry answers who has money in a milestone's market and
// therefore who may challenge and who may vote.
package registry

import (
	"context"
	"database/sql"
	"fmt"

	"blueprintcourt/internal/domain"
	"blueprintcourt/internal/tier"
)

// Voter is an eligible adjudicator with its ballot weight.
type Voter struct {
	ID     string `json:"id"`
	Weight int64  `json:"weight"`
}

type Registry struct {
	DB *sql.DB
	// ExpertPanelSize is the top-N cutoff for expert-tier panels.
	ExpertPanelSize int
}

// InvestTx adds to an investor's position in a milestone's market
// inside the caller's transaction, so the position and its audit event
// commit together.
func (r Registry) InvestTx(ctx context.Context, tx *sql.Tx, milestoneID, investorID string, amountCents int64) error {
	if amountCents <= 0 {
		return fmt.Errorf("investment amount must be positive")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO investments(milestone_id,investor_id,amount_cents) VALUES (?,?,?)
ON CONFLICT(milestone_id,investor_id) DO UPDATE SET amount_cents=amount_cents+excluded.amount_cents`,
		milestoneID, investorID, amountCents)
	return err
}

// AggregateInvestment sums the milestone's market at this moment.
func (r Registry) AggregateInvestment(ctx context.Context, milestoneID string) (int64, error) {
	var total int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount_cents),0) FROM investments WHERE milestone_id=?`, milestoneID).Scan(&total)
	return total, err
}

// InvestmentOf returns one investor's position, zero if none.
func (r Registry) InvestmentOf(ctx context.Context, milestoneID, investorID string) (int64, error) {
	var amount int64
	err := r.DB.QueryRowContext(ctx, `SELECT amount_cents FROM investments WHERE milestone_id=? AND investor_id=?`, milestoneID, investorID).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return amount, err
}

func (r Registry) ListInvestments(ctx context.Context, milestoneID string) ([]domain.Investment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT milestone_id,investor_id,amount_cents FROM investments WHERE milestone_id=? ORDER BY amount_cents DESC, investor_id`, milestoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Investment
	for rows.Next() {
		var inv domain.Investment
		if err := rows.Scan(&inv.MilestoneID, &inv.InvestorID, &inv.AmountCents); err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

// EligibleVoters returns the adjudication panel for a dispute at the
// given tier. Expert: top-N investors by position, one seat each. DAO:
// every token holder with a positive balance, weighted by balance
// (available plus locked, so a challenger's own locked stake still
// counts as holding).
func (r Registry) EligibleVoters(ctx context.Context, milestoneID string, t tier.Tier) ([]Voter, error) {
	if t == tier.Expert {
		rows, err := r.DB.QueryContext(ctx, `SELECT investor_id FROM investments WHERE milestone_id=?
ORDER BY amount_cents DESC, investor_id LIMIT ?`, milestoneID, r.ExpertPanelSize)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var voters []Voter
		for rows.Next() {
			var v Voter
			if err := rows.Scan(&v.ID); err != nil {
				return nil, err
			}
			v.Weight = 1
			voters = append(voters, v)
		}
		return voters, rows.Err()
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT holder_id,available+locked FROM token_accounts WHERE available+locked>0 ORDER BY holder_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var voters []Voter
	for rows.Next() {
		var v Voter
		if err := rows.Scan(&v.ID, &v.Weight); err != nil {
			return nil, err
		}
		voters = append(voters, v)
	}
	return voters, rows.Err()
}
