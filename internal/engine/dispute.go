package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"blueprintcourt/internal/clock"
	"blueprintcourt/internal/domain"
	"blueprintcourt/internal/events"
	"blueprintcourt/internal/ledger"
	"blueprintcourt/internal/repo"
	"blueprintcourt/internal/tally"
	"blueprintcourt/internal/tier"
)

// OpenOptions are parameters for opening a dispute.
type OpenOptions struct {
	MilestoneID  string
	ChallengerID string
	Reason       string
}

// OpenDispute contests a reported result within the challenge window.
// Stake lock, dispute creation and the milestone flag flip share one
// transaction: a failed lock leaves no trace.
func (e *Engine) OpenDispute(ctx context.Context, opts OpenOptions) (domain.Dispute, error) {
	unlock := e.lockMilestone(opts.MilestoneID)
	d, pending, err := e.openDisputeLocked(ctx, opts)
	unlock()
	if pending != nil {
		e.deliver(context.WithoutCancel(ctx), *pending, 0)
	}
	return d, err
}

func (e *Engine) openDisputeLocked(ctx context.Context, opts OpenOptions) (domain.Dispute, *domain.Settlement, error) {
	m, err := e.Repo.GetMilestone(ctx, opts.MilestoneID)
	if err != nil {
		return domain.Dispute{}, nil, err
	}
	if !m.ResultReported || m.Status != "locked" || m.ChallengeDeadline == nil {
		return domain.Dispute{}, nil, fmt.Errorf("%w: milestone has no open challenge window", ErrInvalidState)
	}
	if m.InDispute {
		return domain.Dispute{}, nil, ErrAlreadyDisputed
	}
	now := e.now().UTC()
	expired, err := clock.IsExpired(*m.ChallengeDeadline, now)
	if err != nil {
		return domain.Dispute{}, nil, err
	}
	if expired {
		// The window lapsed before anyone asked; finalize lazily and
		// reject the attempt against the authoritative deadline.
		pending, ferr := e.finalizeUnchallengedLocked(ctx, m, now)
		if ferr != nil {
			return domain.Dispute{}, nil, ferr
		}
		return domain.Dispute{}, pending, fmt.Errorf("%w: challenge window closed", ErrInvalidState)
	}
	p, err := e.Repo.GetProject(ctx, m.ProjectID)
	if err != nil {
		return domain.Dispute{}, nil, err
	}
	if opts.ChallengerID == p.CreatorID {
		return domain.Dispute{}, nil, fmt.Errorf("%w: the reporting creator cannot challenge their own result", ErrNotEligible)
	}
	if minLen := e.Config.Court.MinReasonLength; len([]rune(opts.Reason)) < minLen {
		return domain.Dispute{}, nil, fmt.Errorf("%w: dispute reason must be at least %d characters", ErrValidation, minLen)
	}
	invested, err := e.Registry.InvestmentOf(ctx, m.ID, opts.ChallengerID)
	if err != nil {
		return domain.Dispute{}, nil, err
	}
	if invested < e.Config.Court.MinInvestmentCents {
		return domain.Dispute{}, nil, fmt.Errorf("%w: challenger holds no qualifying investment in this milestone", ErrNotEligible)
	}
	// Tier is re-evaluated against the market as it stands right now,
	// not as it stood at funding time.
	aggregate, err := e.Registry.AggregateInvestment(ctx, m.ID)
	if err != nil {
		return domain.Dispute{}, nil, err
	}
	t := tier.Select(aggregate, e.Config.Court.Tier.DAOThresholdCents)

	nowStr := now.Format(time.RFC3339)
	d := domain.Dispute{
		ID:             uuid.New().String(),
		MilestoneID:    m.ID,
		ChallengerID:   opts.ChallengerID,
		Reason:         opts.Reason,
		Tier:           string(t),
		Status:         "voting",
		VotingDeadline: clock.Deadline(now, e.Config.VotingPeriod()),
		CreatedAt:      nowStr,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dispute{}, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDisputeTx(ctx, tx, d); err != nil {
		return domain.Dispute{}, nil, err
	}
	stake, err := e.Ledger.LockTx(ctx, tx, opts.ChallengerID, uuid.New().String(), d.ID, e.Config.Court.DisputeStake, nowStr)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return domain.Dispute{}, nil, fmt.Errorf("%w: %v", ErrInsufficientStake, err)
		}
		return domain.Dispute{}, nil, err
	}
	if err := e.Repo.SetInDisputeTx(ctx, tx, m.ID, nowStr); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Dispute{}, nil, ErrAlreadyDisputed
		}
		return domain.Dispute{}, nil, err
	}
	if err := e.Events.Append(ctx, tx, "dispute.opened", m.ProjectID, "dispute", d.ID, opts.ChallengerID, events.EventPayload{
		"milestone_id":    m.ID,
		"tier":            d.Tier,
		"stake":           stake.Amount,
		"voting_deadline": d.VotingDeadline,
	}); err != nil {
		return domain.Dispute{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dispute{}, nil, err
	}
	return d, nil, nil
}

// CastVote records or replaces an eligible voter's ballot on a live
// dispute. The stored deadline is authoritative: a vote arriving after
// it fails even when the dispute has not been resolved yet.
func (e *Engine) CastVote(ctx context.Context, disputeID, voterID, choice string) error {
	d, err := e.Repo.GetDispute(ctx, disputeID)
	if err != nil {
		return err
	}
	unlock := e.lockMilestone(d.MilestoneID)
	pending, err := e.castVoteLocked(ctx, disputeID, voterID, choice)
	unlock()
	if pending != nil {
		e.deliver(context.WithoutCancel(ctx), *pending, 0)
	}
	return err
}

func (e *Engine) castVoteLocked(ctx context.Context, disputeID, voterID, choice string) (*domain.Settlement, error) {
	d, err := e.Repo.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != "voting" {
		return nil, fmt.Errorf("%w: dispute is %s", ErrInvalidState, d.Status)
	}
	now := e.now().UTC()
	expired, err := clock.IsExpired(d.VotingDeadline, now)
	if err != nil {
		return nil, err
	}
	if expired {
		pending, rerr := e.resolveLocked(ctx, d, now)
		if rerr != nil {
			return nil, rerr
		}
		return pending, ErrVotingClosed
	}
	if choice != tally.ChoiceUphold && choice != tally.ChoiceOverturn {
		return nil, fmt.Errorf("%w: choice must be %s or %s", ErrValidation, tally.ChoiceUphold, tally.ChoiceOverturn)
	}
	voters, err := e.Registry.EligibleVoters(ctx, d.MilestoneID, tier.Tier(d.Tier))
	if err != nil {
		return nil, err
	}
	var weight int64
	for _, v := range voters {
		if v.ID == voterID {
			weight = v.Weight
			break
		}
	}
	if weight <= 0 {
		return nil, fmt.Errorf("%w: voter is not on this dispute's panel", ErrNotEligible)
	}
	m, err := e.Repo.GetMilestone(ctx, d.MilestoneID)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	b := domain.Ballot{
		DisputeID: disputeID,
		VoterID:   voterID,
		Choice:    choice,
		Weight:    weight,
		CastAt:    now.Format(time.RFC3339),
	}
	if err := e.Repo.UpsertBallotTx(ctx, tx, b); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "ballot.cast", m.ProjectID, "dispute", disputeID, voterID, events.EventPayload{
		"choice": choice,
		"weight": weight,
	}); err != nil {
		return nil, err
	}
	return nil, tx.Commit()
}

// resolveLocked concludes a dispute whose voting deadline has passed.
// Caller holds the milestone lock. A nil settlement with nil error means
// another finalizer already won.
func (e *Engine) resolveLocked(ctx context.Context, d domain.Dispute, now time.Time) (*domain.Settlement, error) {
	d, err := e.Repo.GetDispute(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if d.Status != "voting" {
		return nil, nil
	}
	m, err := e.Repo.GetMilestone(ctx, d.MilestoneID)
	if err != nil {
		return nil, err
	}
	if m.ReportedOutcome == nil {
		return nil, fmt.Errorf("milestone %s has a dispute but no reported outcome", m.ID)
	}
	voters, err := e.Registry.EligibleVoters(ctx, d.MilestoneID, tier.Tier(d.Tier))
	if err != nil {
		return nil, err
	}
	ballots, err := e.Repo.ListBallots(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	result := tally.Count(ballots, tier.Tier(d.Tier), len(voters), tally.Policy{
		ExpertQuorum: e.Config.Court.Tier.ExpertQuorum,
	})
	upheld := result.Upheld()
	outcome := *m.ReportedOutcome
	if !upheld {
		outcome = !outcome
	}
	status := "resolved_upheld"
	if !upheld {
		status = "resolved_overturned"
	}
	nowStr := now.Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.ResolveDisputeTx(ctx, tx, d.ID, status, outcome, nowStr); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	stake, err := e.Repo.StakeForDispute(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if upheld {
		var beneficiaries []ledger.Beneficiary
		for _, b := range ballots {
			if b.Choice == tally.ChoiceUphold {
				beneficiaries = append(beneficiaries, ledger.Beneficiary{ID: b.VoterID, Weight: b.Weight})
			}
		}
		if _, err := e.Ledger.ForfeitTx(ctx, tx, stake.ID, beneficiaries, nowStr); err != nil {
			return nil, err
		}
	} else {
		if _, err := e.Ledger.ReturnTx(ctx, tx, stake.ID, nowStr); err != nil {
			return nil, err
		}
	}
	if err := e.Repo.FinalizeMilestoneTx(ctx, tx, m.ID, outcome, nowStr); err != nil {
		return nil, err
	}
	s := domain.Settlement{
		MilestoneID: m.ID,
		DisputeID:   &d.ID,
		Outcome:     outcome,
		Overturned:  !upheld,
		CreatedAt:   nowStr,
	}
	inserted, err := e.Repo.InsertSettlementTx(ctx, tx, s)
	if err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "dispute.resolved", m.ProjectID, "dispute", d.ID, "court", events.EventPayload{
		"status":          status,
		"uphold_weight":   result.UpholdWeight,
		"overturn_weight": result.OverturnWeight,
		"quorum_met":      result.QuorumMet,
	}); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "milestone.finalized", m.ProjectID, "milestone", m.ID, "court", events.EventPayload{
		"outcome":    outcome,
		"dispute_id": d.ID,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}
	return &s, nil
}

// finalizeUnchallengedLocked closes a challenge window that expired with
// no dispute. Caller holds the milestone lock.
func (e *Engine) finalizeUnchallengedLocked(ctx context.Context, m domain.Milestone, now time.Time) (*domain.Settlement, error) {
	m, err := e.Repo.GetMilestone(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if m.Status != "locked" || m.InDispute || m.ReportedOutcome == nil {
		return nil, nil
	}
	nowStr := now.Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.FinalizeMilestoneTx(ctx, tx, m.ID, *m.ReportedOutcome, nowStr); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	s := domain.Settlement{
		MilestoneID: m.ID,
		Outcome:     *m.ReportedOutcome,
		CreatedAt:   nowStr,
	}
	inserted, err := e.Repo.InsertSettlementTx(ctx, tx, s)
	if err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "milestone.finalized", m.ProjectID, "milestone", m.ID, "court", events.EventPayload{
		"outcome":      *m.ReportedOutcome,
		"unchallenged": true,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}
	return &s, nil
}

// Sweep finalizes every expired challenge window and voting period and
// redelivers any settlement whose notification has not been confirmed.
// Safe to run concurrently with lazy expiry on the request paths.
func (e *Engine) Sweep(ctx context.Context) error {
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	var pending []domain.Settlement

	expired, err := e.Repo.ListChallengeExpired(ctx, nowStr)
	if err != nil {
		return err
	}
	for _, m := range expired {
		unlock := e.lockMilestone(m.ID)
		s, err := e.finalizeUnchallengedLocked(ctx, m, now)
		unlock()
		if err != nil {
			return err
		}
		if s != nil {
			pending = append(pending, *s)
		}
	}

	votingExpired, err := e.Repo.ListVotingExpired(ctx, nowStr)
	if err != nil {
		return err
	}
	for _, d := range votingExpired {
		unlock := e.lockMilestone(d.MilestoneID)
		s, err := e.resolveLocked(ctx, d, now)
		unlock()
		if err != nil {
			return err
		}
		if s != nil {
			pending = append(pending, *s)
		}
	}

	undelivered, err := e.Repo.ListUnnotifiedSettlements(ctx, 100)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(pending))
	for _, s := range pending {
		seen[s.MilestoneID] = true
	}
	for _, s := range undelivered {
		if !seen[s.MilestoneID] {
			pending = append(pending, s)
		}
	}
	for _, s := range pending {
		e.deliver(ctx, s, e.Config.Settlement.Retries)
	}
	return nil
}

// deliver pushes a settlement to the notifier with up to retries
// backoff rounds. A missed payout is a correctness failure while a
// duplicate attempt is safe by construction, so delivery errors are
// logged and left for the next sweep rather than surfaced to the
// triggering caller. Lazy request-path finalizations pass retries=0:
// one attempt, no backoff stall on the caller's goroutine, the sweeper
// owns the retry schedule.
func (e *Engine) deliver(ctx context.Context, s domain.Settlement, retries int) {
	if e.Notifier == nil {
		return
	}
	backoff := e.Config.SettlementBackoff()
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err := e.Notifier.NotifyResolved(ctx, s); err != nil {
			lastErr = err
			continue
		}
		nowStr := e.now().UTC().Format(time.RFC3339)
		if err := e.Repo.MarkSettlementNotified(ctx, s.MilestoneID, nowStr); err != nil {
			log.Printf("settlement %s delivered but not recorded: %v", s.MilestoneID, err)
		}
		return
	}
	log.Printf("settlement %s delivery failed, will retry on next sweep: %v", s.MilestoneID, lastErr)
}
