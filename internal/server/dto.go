package server

import (
	"blueprintcourt/internal/clock"
	"blueprintcourt/internal/domain"
	"blueprintcourt/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title"`
	CreatorID string `json:"creator_id,omitempty"`
}

type CreateMilestoneRequest struct {
	ID         string `json:"id,omitempty"`
	Title      string `json:"title"`
	TargetDate string `json:"target_date,omitempty" format:"date-time"`
}

type ReportResultRequest struct {
	Outcome      bool   `json:"outcome"`
	EvidenceURL  string `json:"evidence_url,omitempty"`
	EvidenceNote string `json:"evidence_note,omitempty"`
}

type OpenDisputeRequest struct {
	Reason string `json:"reason"`
}

type CastVoteRequest struct {
	Choice string `json:"choice" enum:"uphold_original,overturn"`
}

type InvestRequest struct {
	InvestorID  string `json:"investor_id,omitempty"`
	AmountCents int64  `json:"amount_cents"`
}

type DepositRequest struct {
	HolderID string `json:"holder_id,omitempty"`
	Amount   int64  `json:"amount"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatorID string `json:"creator_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, Title: p.Title, CreatorID: p.CreatorID, Status: p.Status, CreatedAt: p.CreatedAt}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

type MilestoneResponse struct {
	ID                string               `json:"id"`
	ProjectID         string               `json:"project_id"`
	Title             string               `json:"title"`
	TargetDate        string               `json:"target_date,omitempty"`
	Status            string               `json:"status"`
	ResultReported    bool                 `json:"result_reported"`
	ReportedOutcome   *bool                `json:"reported_outcome,omitempty"`
	EvidenceURL       *string              `json:"evidence_url,omitempty"`
	EvidenceNote      *string              `json:"evidence_note,omitempty"`
	InDispute         bool                 `json:"is_in_dispute"`
	ChallengeDeadline *string              `json:"challenge_deadline,omitempty"`
	ChallengeTimer    *clock.TimeRemaining `json:"challenge_timer,omitempty"`
	FinalOutcome      *bool                `json:"final_outcome,omitempty"`
	CreatedAt         string               `json:"created_at"`
	UpdatedAt         string               `json:"updated_at"`
}

func milestoneResponse(m domain.Milestone, timer *clock.TimeRemaining) MilestoneResponse {
	return MilestoneResponse{
		ID:                m.ID,
		ProjectID:         m.ProjectID,
		Title:             m.Title,
		TargetDate:        m.TargetDate,
		Status:            m.Status,
		ResultReported:    m.ResultReported,
		ReportedOutcome:   m.ReportedOutcome,
		EvidenceURL:       m.EvidenceURL,
		EvidenceNote:      m.EvidenceNote,
		InDispute:         m.InDispute,
		ChallengeDeadline: m.ChallengeDeadline,
		ChallengeTimer:    timer,
		FinalOutcome:      m.FinalOutcome,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

type DisputeResponse struct {
	ID             string  `json:"id"`
	MilestoneID    string  `json:"milestone_id"`
	ChallengerID   string  `json:"challenger_id"`
	Reason         string  `json:"reason"`
	Tier           string  `json:"tier"`
	Status         string  `json:"status"`
	VotingDeadline string  `json:"voting_deadline"`
	Outcome        *bool   `json:"outcome,omitempty"`
	CreatedAt      string  `json:"created_at"`
	ResolvedAt     *string `json:"resolved_at,omitempty"`
}

func disputeResponse(d domain.Dispute) DisputeResponse {
	return DisputeResponse{
		ID:             d.ID,
		MilestoneID:    d.MilestoneID,
		ChallengerID:   d.ChallengerID,
		Reason:         d.Reason,
		Tier:           d.Tier,
		Status:         d.Status,
		VotingDeadline: d.VotingDeadline,
		Outcome:        d.Outcome,
		CreatedAt:      d.CreatedAt,
		ResolvedAt:     d.ResolvedAt,
	}
}

type DisputeDetailResponse struct {
	Dispute   DisputeResponse     `json:"dispute"`
	Milestone MilestoneResponse   `json:"milestone"`
	Tally     TallyResponse       `json:"tally"`
	Remaining clock.TimeRemaining `json:"time_remaining"`
}

type TallyResponse struct {
	WinningChoice  string `json:"winning_choice"`
	UpholdWeight   int64  `json:"uphold_weight"`
	OverturnWeight int64  `json:"overturn_weight"`
	Voted          int    `json:"voted"`
	Eligible       int    `json:"eligible"`
	QuorumMet      bool   `json:"quorum_met"`
}

func detailResponse(d engine.DisputeDetail) DisputeDetailResponse {
	return DisputeDetailResponse{
		Dispute:   disputeResponse(d.Dispute),
		Milestone: milestoneResponse(d.Milestone, nil),
		Tally: TallyResponse{
			WinningChoice:  d.Tally.Winning,
			UpholdWeight:   d.Tally.UpholdWeight,
			OverturnWeight: d.Tally.OverturnWeight,
			Voted:          d.Tally.Voted,
			Eligible:       d.Tally.Eligible,
			QuorumMet:      d.Tally.QuorumMet,
		},
		Remaining: d.Remaining,
	}
}

type DisputeSummaryResponse struct {
	Dispute     DisputeResponse     `json:"dispute"`
	VotedCount  int                 `json:"voted_count"`
	TotalVoters int                 `json:"total_voters"`
	Remaining   clock.TimeRemaining `json:"time_remaining"`
}

type ActiveDisputesResponse struct {
	ExpertTier []DisputeSummaryResponse `json:"expert_tier"`
	DAOTier    []DisputeSummaryResponse `json:"dao_tier"`
}

func activeDisputesResponse(a engine.ActiveDisputes) ActiveDisputesResponse {
	out := ActiveDisputesResponse{
		ExpertTier: make([]DisputeSummaryResponse, 0, len(a.ExpertTier)),
		DAOTier:    make([]DisputeSummaryResponse, 0, len(a.DAOTier)),
	}
	for _, s := range a.ExpertTier {
		out.ExpertTier = append(out.ExpertTier, summaryResponse(s))
	}
	for _, s := range a.DAOTier {
		out.DAOTier = append(out.DAOTier, summaryResponse(s))
	}
	return out
}

func summaryResponse(s engine.DisputeSummary) DisputeSummaryResponse {
	return DisputeSummaryResponse{
		Dispute:     disputeResponse(s.Dispute),
		VotedCount:  s.VotedCount,
		TotalVoters: s.TotalVoters,
		Remaining:   s.Remaining,
	}
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	// Key is the plaintext key, returned once at creation only.
	Key string `json:"key,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
