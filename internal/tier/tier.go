// Package tier maps a milestone's aggregate investment to its
// adjudication authority.
package tier

// Tier is the adjudication authority for a dispute.
type Tier string

const (
	// Expert disputes are decided by the milestone's top investors.
	Expert Tier = "expert"
	// DAO disputes are decided by all governance-token holders.
	DAO Tier = "dao"
)

// Select picks the tier for a dispute from the milestone's aggregate
// investment at dispute-open time. Amounts at or above the threshold go
// to the dao tier.
func Select(aggregateCents, thresholdCents int64) Tier {
	if aggregateCents >= thresholdCents {
		return DAO
	}
	return Expert
}
