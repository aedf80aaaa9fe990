package domain

type Project struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatorID string `json:"creator_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Milestone struct {
	ID                string  `json:"id"`
	ProjectID         string  `json:"project_id"`
	Title             string  `json:"title"`
	TargetDate        string  `json:"target_date,omitempty" format:"date-time"`
	Status            string  `json:"status" enum:"pending,completed,failed,locked"`
	ResultReported    bool    `json:"result_reported"`
	ReportedOutcome   *bool   `json:"reported_outcome,omitempty"`
	EvidenceURL       *string `json:"evidence_url,omitempty"`
	EvidenceNote      *string `json:"evidence_note,omitempty"`
	InDispute         bool    `json:"is_in_dispute"`
	ChallengeDeadline *string `json:"challenge_deadline,omitempty" format:"date-time"`
	FinalOutcome      *bool   `json:"final_outcome,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

type Dispute struct {
	ID             string  `json:"id"`
	MilestoneID    string  `json:"milestone_id"`
	ChallengerID   string  `json:"challenger_id"`
	Reason         string  `json:"reason"`
	Tier           string  `json:"tier" enum:"expert,dao"`
	Status         string  `json:"status" enum:"challenge_open,voting,resolved_upheld,resolved_overturned,expired_unchallenged"`
	VotingDeadline string  `json:"voting_deadline" format:"date-time"`
	Outcome        *bool   `json:"outcome,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	ResolvedAt     *string `json:"resolved_at,omitempty" format:"date-time"`
}

type Stake struct {
	ID        string  `json:"id"`
	DisputeID string  `json:"dispute_id"`
	OwnerID   string  `json:"owner_id"`
	Amount    int64   `json:"amount"`
	State     string  `json:"state" enum:"locked,returned,forfeited"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	SettledAt *string `json:"settled_at,omitempty" format:"date-time"`
}

type Ballot struct {
	DisputeID string `json:"dispute_id"`
	VoterID   string `json:"voter_id"`
	Choice    string `json:"choice" enum:"uphold_original,overturn"`
	Weight    int64  `json:"weight"`
	CastAt    string `json:"cast_at" format:"date-time"`
}

type Investment struct {
	MilestoneID string `json:"milestone_id"`
	InvestorID  string `json:"investor_id"`
	AmountCents int64  `json:"amount_cents"`
}

type TokenAccount struct {
	HolderID  string `json:"holder_id"`
	Available int64  `json:"available"`
	Locked    int64  `json:"locked"`
}

// Settlement is the idempotency record for a milestone finalization.
// One row per milestone; NotifiedAt is set after successful delivery.
type Settlement struct {
	MilestoneID string  `json:"milestone_id"`
	DisputeID   *string `json:"dispute_id,omitempty"`
	Outcome     bool    `json:"outcome"`
	Overturned  bool    `json:"overturned"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	NotifiedAt  *string `json:"notified_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
