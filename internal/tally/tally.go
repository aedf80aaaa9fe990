// Package tally accumulates ballots for a dispute and computes the
// outcome once the voting deadline has passed.
package tally

import (
	"blueprintcourt/internal/domain"
	"blueprintcourt/internal/tier"
)

const (
	ChoiceUphold   = "uphold_original"
	ChoiceOverturn = "overturn"
)

// Policy controls quorum requirements per tier.
type Policy struct {
	// ExpertQuorum is the fraction of the expert panel that must vote.
	ExpertQuorum float64
	// DAO voting has no hard quorum; ties and quorum failures favor the
	// original result either way.
}

// Result is the computed outcome of a dispute vote.
type Result struct {
	Winning        string `json:"winning_choice"`
	UpholdWeight   int64  `json:"uphold_weight"`
	OverturnWeight int64  `json:"overturn_weight"`
	Voted          int    `json:"voted"`
	Eligible       int    `json:"eligible"`
	QuorumMet      bool   `json:"quorum_met"`
}

// Upheld reports whether the original reported result stands.
func (r Result) Upheld() bool { return r.Winning == ChoiceUphold }

// Count tallies ballots by weight under the given tier and policy.
// Ballots are assumed deduplicated per voter (the store keeps only the
// latest per voter). Ties resolve in favor of the original result, and
// an expert panel that misses quorum also upholds the original result.
func Count(ballots []domain.Ballot, t tier.Tier, eligible int, p Policy) Result {
	res := Result{Voted: len(ballots), Eligible: eligible}
	for _, b := range ballots {
		switch b.Choice {
		case ChoiceOverturn:
			res.OverturnWeight += b.Weight
		default:
			res.UpholdWeight += b.Weight
		}
	}
	res.QuorumMet = quorumMet(t, res.Voted, eligible, p)
	if res.QuorumMet && res.OverturnWeight > res.UpholdWeight {
		res.Winning = ChoiceOverturn
	} else {
		res.Winning = ChoiceUphold
	}
	return res
}

func quorumMet(t tier.Tier, voted, eligible int, p Policy) bool {
	if t != tier.Expert || p.ExpertQuorum <= 0 {
		return true
	}
	if eligible == 0 {
		return false
	}
	return float64(voted) >= p.ExpertQuorum*float64(eligible)
}
