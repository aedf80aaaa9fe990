package tally_test

import (
	"testing"

	"blueprintcourt/internal/domain"
	"blueprintcourt/internal/tally"
	"blueprintcourt/internal/tier"
)

func ballot(voter, choice string, weight int64) domain.Ballot {
	return domain.Ballot{DisputeID: "d1", VoterID: voter, Choice: choice, Weight: weight}
}

func TestCountMajorityOverturns(t *testing.T) {
	res := tally.Count([]domain.Ballot{
		ballot("a", tally.ChoiceOverturn, 1),
		ballot("b", tally.ChoiceOverturn, 1),
		ballot("c", tally.ChoiceUphold, 1),
	}, tier.Expert, 4, tally.Policy{ExpertQuorum: 0.5})
	if res.Upheld() {
		t.Fatalf("2-1 overturn majority should win: %+v", res)
	}
	if res.OverturnWeight != 2 || res.UpholdWeight != 1 {
		t.Fatalf("weights = %+v", res)
	}
}

func TestCountTieUpholds(t *testing.T) {
	res := tally.Count([]domain.Ballot{
		ballot("a", tally.ChoiceOverturn, 5),
		ballot("b", tally.ChoiceUphold, 5),
	}, tier.DAO, 2, tally.Policy{ExpertQuorum: 0.5})
	if !res.Upheld() {
		t.Fatalf("tie must favor the original result: %+v", res)
	}
}

func TestCountNoBallotsUpholds(t *testing.T) {
	res := tally.Count(nil, tier.DAO, 0, tally.Policy{})
	if !res.Upheld() || res.Voted != 0 {
		t.Fatalf("empty vote must uphold: %+v", res)
	}
}

func TestExpertQuorum(t *testing.T) {
	ballots := []domain.Ballot{ballot("a", tally.ChoiceOverturn, 1)}
	p := tally.Policy{ExpertQuorum: 0.5}

	res := tally.Count(ballots, tier.Expert, 4, p)
	if res.QuorumMet || !res.Upheld() {
		t.Fatalf("1 of 4 experts must miss quorum and uphold: %+v", res)
	}
	res = tally.Count(ballots, tier.Expert, 2, p)
	if !res.QuorumMet || res.Upheld() {
		t.Fatalf("1 of 2 experts meets quorum, overturn should win: %+v", res)
	}
	// DAO votes carry no hard quorum.
	res = tally.Count(ballots, tier.DAO, 100, p)
	if !res.QuorumMet || res.Upheld() {
		t.Fatalf("dao quorum should always be met: %+v", res)
	}
}

func TestDAOWeightsDecide(t *testing.T) {
	res := tally.Count([]domain.Ballot{
		ballot("whale", tally.ChoiceUphold, 900),
		ballot("a", tally.ChoiceOverturn, 300),
		ballot("b", tally.ChoiceOverturn, 300),
	}, tier.DAO, 3, tally.Policy{})
	if !res.Upheld() {
		t.Fatalf("900 uphold vs 600 overturn must uphold: %+v", res)
	}
}
