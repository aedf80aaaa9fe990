// Package ledger manages challenger stakes over governance-token
// accounts. A stake is locked atomically with its balance check and its
// state only ever moves locked -> returned or locked -> forfeited;
// settling an already-terminal stake is a no-op that reports the prior
// terminal state, so at-least-once resolution delivery cannot
// double-spend.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"blueprintcourt/internal/domain"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

const (
	StateLocked    = "locked"
	StateReturned  = "returned"
	StateForfeited = "forfeited"
)

// Beneficiary receives a weighted share of a forfeited stake.
type Beneficiary struct {
	ID     string
	Weight int64
}

type Ledger struct {
	DB *sql.DB
}

// Deposit credits available balance, creating the account if needed.
func (l Ledger) Deposit(ctx context.Context, holderID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive")
	}
	_, err := l.DB.ExecContext(ctx, `INSERT INTO token_accounts(holder_id,available,locked) VALUES (?,?,0)
ON CONFLICT(holder_id) DO UPDATE SET available=available+excluded.available`, holderID, amount)
	return err
}

// Account returns a holder's balances. Unknown holders read as empty.
func (l Ledger) Account(ctx context.Context, holderID string) (domain.TokenAccount, error) {
	acc := domain.TokenAccount{HolderID: holderID}
	err := l.DB.QueryRowContext(ctx, `SELECT available,locked FROM token_accounts WHERE holder_id=?`, holderID).
		Scan(&acc.Available, &acc.Locked)
	if err == sql.ErrNoRows {
		return acc, nil
	}
	return acc, err
}

// LockTx moves amount from the owner's available balance into locked and
// records the stake, all inside the caller's transaction. The balance
// precondition in the UPDATE keeps the check atomic with the move.
func (l Ledger) LockTx(ctx context.Context, tx *sql.Tx, owner, stakeID, disputeID string, amount int64, now string) (domain.Stake, error) {
	res, err := tx.ExecContext(ctx, `UPDATE token_accounts SET available=available-?,locked=locked+? WHERE holder_id=? AND available>=?`,
		amount, amount, owner, amount)
	if err != nil {
		return domain.Stake{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Stake{}, err
	}
	if n == 0 {
		return domain.Stake{}, fmt.Errorf("lock %d for %s: %w", amount, owner, ErrInsufficientFunds)
	}
	s := domain.Stake{
		ID:        stakeID,
		DisputeID: disputeID,
		OwnerID:   owner,
		Amount:    amount,
		State:     StateLocked,
		CreatedAt: now,
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO stakes(id,dispute_id,owner_id,amount,state,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.DisputeID, s.OwnerID, s.Amount, s.State, s.CreatedAt); err != nil {
		return domain.Stake{}, err
	}
	return s, nil
}

// ReturnTx releases a locked stake back to its owner. Idempotent: a
// stake already settled is returned unchanged with no balance movement.
func (l Ledger) ReturnTx(ctx context.Context, tx *sql.Tx, stakeID, now string) (domain.Stake, error) {
	s, moved, err := l.settleTx(ctx, tx, stakeID, StateReturned, now)
	if err != nil || !moved {
		return s, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE token_accounts SET available=available+?,locked=locked-? WHERE holder_id=?`,
		s.Amount, s.Amount, s.OwnerID); err != nil {
		return domain.Stake{}, err
	}
	return s, nil
}

// ForfeitTx takes a locked stake from its owner and distributes it
// pro-rata across beneficiaries by weight. Idempotent like ReturnTx.
// Integer shares round down; the remainder goes to the heaviest
// beneficiary, ties broken by ID, so repeated runs split identically.
func (l Ledger) ForfeitTx(ctx context.Context, tx *sql.Tx, stakeID string, beneficiaries []Beneficiary, now string) (domain.Stake, error) {
	s, moved, err := l.settleTx(ctx, tx, stakeID, StateForfeited, now)
	if err != nil || !moved {
		return s, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE token_accounts SET locked=locked-? WHERE holder_id=?`, s.Amount, s.OwnerID); err != nil {
		return domain.Stake{}, err
	}
	for _, b := range Split(s.Amount, beneficiaries) {
		if b.Weight == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO token_accounts(holder_id,available,locked) VALUES (?,?,0)
ON CONFLICT(holder_id) DO UPDATE SET available=available+excluded.available`, b.ID, b.Weight); err != nil {
			return domain.Stake{}, err
		}
	}
	return s, nil
}

// Split divides amount across beneficiaries proportionally to weight and
// returns the per-beneficiary payout in the Weight field. With no
// beneficiaries (or zero total weight) the whole amount is burned.
func Split(amount int64, beneficiaries []Beneficiary) []Beneficiary {
	var total int64
	for _, b := range beneficiaries {
		total += b.Weight
	}
	if total <= 0 {
		return nil
	}
	out := make([]Beneficiary, len(beneficiaries))
	copy(out, beneficiaries)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].ID < out[j].ID
	})
	var paid int64
	for i := range out {
		share := amount * out[i].Weight / total
		out[i].Weight = share
		paid += share
	}
	out[0].Weight += amount - paid
	return out
}

func (l Ledger) settleTx(ctx context.Context, tx *sql.Tx, stakeID, state, now string) (domain.Stake, bool, error) {
	var s domain.Stake
	var settledAt sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT id,dispute_id,owner_id,amount,state,created_at,settled_at FROM stakes WHERE id=?`, stakeID).
		Scan(&s.ID, &s.DisputeID, &s.OwnerID, &s.Amount, &s.State, &s.CreatedAt, &settledAt)
	if err == sql.ErrNoRows {
		return s, false, fmt.Errorf("stake %s: not found", stakeID)
	}
	if err != nil {
		return s, false, err
	}
	if settledAt.Valid {
		s.SettledAt = &settledAt.String
	}
	if s.State != StateLocked {
		return s, false, nil
	}
	res, err := tx.ExecContext(ctx, `UPDATE stakes SET state=?,settled_at=? WHERE id=? AND state='locked'`, state, now, stakeID)
	if err != nil {
		return s, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s, false, err
	}
	if n == 0 {
		return s, false, nil
	}
	s.State = state
	s.SettledAt = &now
	return s, true, nil
}
