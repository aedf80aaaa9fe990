package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"blueprintcourt/internal/db"
	"blueprintcourt/internal/ledger"
	"blueprintcourt/internal/migrate"
)

func newLedger(t *testing.T) (ledger.Ledger, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return ledger.Ledger{DB: conn}, conn
}

func inTx(t *testing.T, conn *sql.DB, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestLockRequiresFunds(t *testing.T) {
	l, conn := newLedger(t)
	ctx := context.Background()
	if err := l.Deposit(ctx, "alice", 80); err != nil {
		t.Fatal(err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = l.LockTx(ctx, tx, "alice", "stake-1", "disp-1", 100, "2024-01-01T00:00:00Z")
	tx.Rollback()
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	acc, _ := l.Account(ctx, "alice")
	if acc.Available != 80 || acc.Locked != 0 {
		t.Fatalf("balance moved on failed lock: %+v", acc)
	}
}

func TestReturnIsIdempotent(t *testing.T) {
	l, conn := newLedger(t)
	ctx := context.Background()
	if err := l.Deposit(ctx, "alice", 150); err != nil {
		t.Fatal(err)
	}
	inTx(t, conn, func(tx *sql.Tx) error {
		_, err := l.LockTx(ctx, tx, "alice", "stake-1", "disp-1", 100, "2024-01-01T00:00:00Z")
		return err
	})

	inTx(t, conn, func(tx *sql.Tx) error {
		s, err := l.ReturnTx(ctx, tx, "stake-1", "2024-01-02T00:00:00Z")
		if err != nil {
			return err
		}
		if s.State != ledger.StateReturned {
			t.Fatalf("state = %s", s.State)
		}
		return nil
	})
	acc, _ := l.Account(ctx, "alice")
	if acc.Available != 150 || acc.Locked != 0 {
		t.Fatalf("after return: %+v", acc)
	}

	// A second settlement reports the terminal state and moves nothing.
	inTx(t, conn, func(tx *sql.Tx) error {
		s, err := l.ReturnTx(ctx, tx, "stake-1", "2024-01-03T00:00:00Z")
		if err != nil {
			return err
		}
		if s.State != ledger.StateReturned {
			t.Fatalf("state = %s", s.State)
		}
		return nil
	})
	acc, _ = l.Account(ctx, "alice")
	if acc.Available != 150 {
		t.Fatalf("double return moved balance: %+v", acc)
	}
}

func TestForfeitDistributesProRata(t *testing.T) {
	l, conn := newLedger(t)
	ctx := context.Background()
	if err := l.Deposit(ctx, "alice", 100); err != nil {
		t.Fatal(err)
	}
	inTx(t, conn, func(tx *sql.Tx) error {
		_, err := l.LockTx(ctx, tx, "alice", "stake-1", "disp-1", 100, "2024-01-01T00:00:00Z")
		return err
	})

	beneficiaries := []ledger.Beneficiary{
		{ID: "v1", Weight: 2},
		{ID: "v2", Weight: 1},
	}
	inTx(t, conn, func(tx *sql.Tx) error {
		_, err := l.ForfeitTx(ctx, tx, "stake-1", beneficiaries, "2024-01-02T00:00:00Z")
		return err
	})

	alice, _ := l.Account(ctx, "alice")
	if alice.Available != 0 || alice.Locked != 0 {
		t.Fatalf("challenger kept funds: %+v", alice)
	}
	// 100 split 2:1 floors to 66/33; the remainder goes to the heaviest.
	v1, _ := l.Account(ctx, "v1")
	v2, _ := l.Account(ctx, "v2")
	if v1.Available != 67 || v2.Available != 33 {
		t.Fatalf("split = %d/%d, want 67/33", v1.Available, v2.Available)
	}

	// Forfeiting again is a no-op.
	inTx(t, conn, func(tx *sql.Tx) error {
		_, err := l.ForfeitTx(ctx, tx, "stake-1", beneficiaries, "2024-01-03T00:00:00Z")
		return err
	})
	v1, _ = l.Account(ctx, "v1")
	if v1.Available != 67 {
		t.Fatalf("double forfeit paid again: %+v", v1)
	}
}

func TestSplit(t *testing.T) {
	out := ledger.Split(100, []ledger.Beneficiary{
		{ID: "b", Weight: 1},
		{ID: "a", Weight: 1},
		{ID: "c", Weight: 1},
	})
	total := int64(0)
	for _, b := range out {
		total += b.Weight
	}
	if total != 100 {
		t.Fatalf("split leaks: total %d", total)
	}
	// Equal weights: remainder goes to the lowest ID.
	if out[0].ID != "a" || out[0].Weight != 34 {
		t.Fatalf("remainder ordering: %+v", out)
	}

	if got := ledger.Split(100, nil); got != nil {
		t.Fatalf("no beneficiaries should burn: %+v", got)
	}
	if got := ledger.Split(100, []ledger.Beneficiary{{ID: "a", Weight: 0}}); got != nil {
		t.Fatalf("zero total weight should burn: %+v", got)
	}
}
