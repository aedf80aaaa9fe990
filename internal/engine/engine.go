// Package engine is the dispute-resolution state machine. A milestone
// moves from pending through a reported, locked challenge window into a
// final completed or failed status, either unchallenged at the window
// deadline or through a dispute vote. Every state-changing call runs
// under a per-milestone lock and a status-precondition update, so a
// racing sweep and a lazy client-triggered check cannot both finalize
// the same entity.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"blueprintcourt/internal/clock"
	"blueprintcourt/internal/config"
	"blueprintcourt/internal/domain"
	"blueprintcourt/internal/events"
	"blueprintcourt/internal/ledger"
	"blueprintcourt/internal/registry"
	"blueprintcourt/internal/repo"
	"blueprintcourt/internal/settle"
	"blueprintcourt/internal/tier"
)

// InvestorRegistry is the market-side collaborator: who holds positions
// in a milestone and who sits on a dispute's panel.
type InvestorRegistry interface {
	AggregateInvestment(ctx context.Context, milestoneID string) (int64, error)
	InvestmentOf(ctx context.Context, milestoneID, investorID string) (int64, error)
	EligibleVoters(ctx context.Context, milestoneID string, t tier.Tier) ([]registry.Voter, error)
}

// investmentWriter is the optional seeding surface of a registry; the
// sqlite-backed registry implements it, read-only market feeds may not.
type investmentWriter interface {
	InvestTx(ctx context.Context, tx *sql.Tx, milestoneID, investorID string, amountCents int64) error
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Ledger   ledger.Ledger
	Registry InvestorRegistry
	Notifier settle.Notifier
	Events   events.Writer
	Config   *config.Config
	Now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *sql.DB, cfg *config.Config, reg InvestorRegistry, notifier settle.Notifier) *Engine {
	return &Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Ledger:   ledger.Ledger{DB: db},
		Registry: reg,
		Notifier: notifier,
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// lockMilestone serializes state-changing calls per milestone. All
// dispute mutations key on the dispute's milestone so that challenge
// expiry, dispute creation and vote resolution exclude each other.
func (e *Engine) lockMilestone(id string) func() {
	e.mu.Lock()
	if e.locks == nil {
		e.locks = make(map[string]*sync.Mutex)
	}
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// ProjectOptions are parameters for creating a project.
type ProjectOptions struct {
	ID        string
	Title     string
	CreatorID string
	ActorID   string
}

func (e *Engine) CreateProject(ctx context.Context, opts ProjectOptions) (domain.Project, error) {
	if opts.Title == "" {
		return domain.Project{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if opts.CreatorID == "" {
		return domain.Project{}, fmt.Errorf("%w: creator is required", ErrValidation)
	}
	p := domain.Project{
		ID:        opts.ID,
		Title:     opts.Title,
		CreatorID: opts.CreatorID,
		Status:    "active",
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, opts.ActorID, events.EventPayload{"title": p.Title}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// MilestoneOptions are parameters for creating a milestone.
type MilestoneOptions struct {
	ID         string
	ProjectID  string
	Title      string
	TargetDate string
	ActorID    string
}

func (e *Engine) CreateMilestone(ctx context.Context, opts MilestoneOptions) (domain.Milestone, error) {
	if opts.Title == "" {
		return domain.Milestone{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Milestone{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	m := domain.Milestone{
		ID:         opts.ID,
		ProjectID:  opts.ProjectID,
		Title:      opts.Title,
		TargetDate: opts.TargetDate,
		Status:     "pending",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertMilestoneTx(ctx, tx, m); err != nil {
		return domain.Milestone{}, fmt.Errorf("insert milestone: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "milestone.created", m.ProjectID, "milestone", m.ID, opts.ActorID, events.EventPayload{"title": m.Title}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	return m, nil
}

// Invest records a market position used for eligibility and tier
// selection. The market itself (pricing, matching) lives elsewhere.
func (e *Engine) Invest(ctx context.Context, milestoneID, investorID string, amountCents int64, actorID string) error {
	if amountCents <= 0 {
		return fmt.Errorf("%w: investment amount must be positive", ErrValidation)
	}
	m, err := e.Repo.GetMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	reg, ok := e.Registry.(investmentWriter)
	if !ok {
		return fmt.Errorf("registry does not accept investments")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := reg.InvestTx(ctx, tx, milestoneID, investorID, amountCents); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "investment.added", m.ProjectID, "milestone", m.ID, actorID, events.EventPayload{
		"investor_id":  investorID,
		"amount_cents": amountCents,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Deposit credits governance tokens to an account.
func (e *Engine) Deposit(ctx context.Context, holderID string, amount int64, actorID string) error {
	if err := e.Ledger.Deposit(ctx, holderID, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "account.deposited", "", "account", holderID, actorID, events.EventPayload{"amount": amount}); err != nil {
		return err
	}
	return tx.Commit()
}

// ReportOptions are parameters for reporting a milestone result.
type ReportOptions struct {
	MilestoneID  string
	ReporterID   string
	Outcome      bool
	EvidenceURL  string
	EvidenceNote string
}

// ReportResult records the creator's claimed outcome and opens the
// challenge window.
func (e *Engine) ReportResult(ctx context.Context, opts ReportOptions) (domain.Milestone, error) {
	unlock := e.lockMilestone(opts.MilestoneID)
	defer unlock()

	m, err := e.Repo.GetMilestone(ctx, opts.MilestoneID)
	if err != nil {
		return domain.Milestone{}, err
	}
	p, err := e.Repo.GetProject(ctx, m.ProjectID)
	if err != nil {
		return domain.Milestone{}, err
	}
	if opts.ReporterID != p.CreatorID {
		return domain.Milestone{}, fmt.Errorf("%w: only the project creator may report results", ErrUnauthorized)
	}
	if m.ResultReported {
		return domain.Milestone{}, ErrAlreadyReported
	}
	if m.Status != "pending" {
		return domain.Milestone{}, fmt.Errorf("%w: milestone is %s", ErrInvalidState, m.Status)
	}
	now := e.now().UTC()
	created, err := clock.Parse(m.CreatedAt)
	if err != nil {
		return domain.Milestone{}, err
	}
	if now.Before(created) {
		// A deadline before creation time means the clock cannot be
		// trusted; halt rather than guess.
		return domain.Milestone{}, fmt.Errorf("clock skew: now %s precedes milestone creation %s", now.Format(time.RFC3339), m.CreatedAt)
	}
	deadline := clock.Deadline(now, e.Config.ChallengeWindow())
	nowStr := now.Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkReportedTx(ctx, tx, m.ID, opts.Outcome, optionalString(opts.EvidenceURL), optionalString(opts.EvidenceNote), deadline, nowStr); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Milestone{}, fmt.Errorf("%w: milestone is no longer pending", ErrInvalidState)
		}
		return domain.Milestone{}, err
	}
	if err := e.Events.Append(ctx, tx, "milestone.reported", m.ProjectID, "milestone", m.ID, opts.ReporterID, events.EventPayload{
		"outcome":            opts.Outcome,
		"challenge_deadline": deadline,
	}); err != nil {
		return domain.Milestone{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Milestone{}, err
	}
	return e.Repo.GetMilestone(ctx, m.ID)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
