package engine

import (
	"context"
	"time"

	"blueprintcourt/internal/clock"
	"blueprintcourt/internal/domain"
	"blueprintcourt/internal/tally"
	"blueprintcourt/internal/tier"
)

// DisputeDetail is the full read model for one dispute.
type DisputeDetail struct {
	Dispute   domain.Dispute      `json:"dispute"`
	Milestone domain.Milestone    `json:"milestone"`
	Tally     tally.Result        `json:"tally"`
	Remaining clock.TimeRemaining `json:"time_remaining"`
}

// DisputeSummary is one entry in the active-dispute listing.
type DisputeSummary struct {
	Dispute     domain.Dispute      `json:"dispute"`
	VotedCount  int                 `json:"voted_count"`
	TotalVoters int                 `json:"total_voters"`
	Remaining   clock.TimeRemaining `json:"time_remaining"`
}

// ActiveDisputes groups live disputes by adjudication tier.
type ActiveDisputes struct {
	ExpertTier []DisputeSummary `json:"expert_tier"`
	DAOTier    []DisputeSummary `json:"dao_tier"`
}

// lazyResolve finalizes the dispute if its deadline has passed. Reads
// call this first so a stalled sweep can never leave an expired dispute
// lingering once a client probes it.
func (e *Engine) lazyResolve(ctx context.Context, d domain.Dispute) error {
	if d.Status != "voting" {
		return nil
	}
	now := e.now().UTC()
	expired, err := clock.IsExpired(d.VotingDeadline, now)
	if err != nil {
		return err
	}
	if !expired {
		return nil
	}
	unlock := e.lockMilestone(d.MilestoneID)
	s, err := e.resolveLocked(ctx, d, now)
	unlock()
	if err != nil {
		return err
	}
	if s != nil {
		e.deliver(context.WithoutCancel(ctx), *s, 0)
	}
	return nil
}

// GetDisputeDetail returns the dispute with its current tallies and
// derived countdown, lazily resolving it if the deadline has passed.
func (e *Engine) GetDisputeDetail(ctx context.Context, disputeID string) (DisputeDetail, error) {
	d, err := e.Repo.GetDispute(ctx, disputeID)
	if err != nil {
		return DisputeDetail{}, err
	}
	if err := e.lazyResolve(ctx, d); err != nil {
		return DisputeDetail{}, err
	}
	d, err = e.Repo.GetDispute(ctx, disputeID)
	if err != nil {
		return DisputeDetail{}, err
	}
	m, err := e.Repo.GetMilestone(ctx, d.MilestoneID)
	if err != nil {
		return DisputeDetail{}, err
	}
	voters, err := e.Registry.EligibleVoters(ctx, d.MilestoneID, tier.Tier(d.Tier))
	if err != nil {
		return DisputeDetail{}, err
	}
	ballots, err := e.Repo.ListBallots(ctx, d.ID)
	if err != nil {
		return DisputeDetail{}, err
	}
	result := tally.Count(ballots, tier.Tier(d.Tier), len(voters), tally.Policy{
		ExpertQuorum: e.Config.Court.Tier.ExpertQuorum,
	})
	remaining, err := clock.Remaining(d.VotingDeadline, e.now().UTC())
	if err != nil {
		return DisputeDetail{}, err
	}
	if d.Status != "voting" {
		remaining = clock.TimeRemaining{IsExpired: true}
	}
	return DisputeDetail{Dispute: d, Milestone: m, Tally: result, Remaining: remaining}, nil
}

// GetDisputeTimer derives the remaining voting time from the stored
// deadline. Client-submitted countdowns are never authoritative.
func (e *Engine) GetDisputeTimer(ctx context.Context, disputeID string) (clock.TimeRemaining, error) {
	d, err := e.Repo.GetDispute(ctx, disputeID)
	if err != nil {
		return clock.TimeRemaining{}, err
	}
	if d.Status != "voting" {
		return clock.TimeRemaining{IsExpired: true}, nil
	}
	return clock.Remaining(d.VotingDeadline, e.now().UTC())
}

// ListActiveDisputes returns live disputes grouped by tier with voting
// progress and time remaining. Expired entries are resolved on the way.
func (e *Engine) ListActiveDisputes(ctx context.Context, tierFilter string) (ActiveDisputes, error) {
	switch tierFilter {
	case "", string(tier.Expert), string(tier.DAO):
	default:
		return ActiveDisputes{}, ErrValidation
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	expired, err := e.Repo.ListVotingExpired(ctx, nowStr)
	if err != nil {
		return ActiveDisputes{}, err
	}
	for _, d := range expired {
		if err := e.lazyResolve(ctx, d); err != nil {
			return ActiveDisputes{}, err
		}
	}
	disputes, err := e.Repo.ListActiveDisputes(ctx, tierFilter)
	if err != nil {
		return ActiveDisputes{}, err
	}
	var out ActiveDisputes
	now := e.now().UTC()
	for _, d := range disputes {
		voters, err := e.Registry.EligibleVoters(ctx, d.MilestoneID, tier.Tier(d.Tier))
		if err != nil {
			return ActiveDisputes{}, err
		}
		voted, err := e.Repo.CountBallots(ctx, d.ID)
		if err != nil {
			return ActiveDisputes{}, err
		}
		remaining, err := clock.Remaining(d.VotingDeadline, now)
		if err != nil {
			return ActiveDisputes{}, err
		}
		s := DisputeSummary{Dispute: d, VotedCount: voted, TotalVoters: len(voters), Remaining: remaining}
		if d.Tier == string(tier.DAO) {
			out.DAOTier = append(out.DAOTier, s)
		} else {
			out.ExpertTier = append(out.ExpertTier, s)
		}
	}
	return out, nil
}
