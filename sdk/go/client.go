package courtsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Blueprint Court HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Milestone represents the API milestone model (partial).
type Milestone struct {
	ID                string `json:"id"`
	ProjectID         string `json:"project_id"`
	Title             string `json:"title"`
	Status            string `json:"status"`
	ResultReported    bool   `json:"result_reported"`
	InDispute         bool   `json:"is_in_dispute"`
	ChallengeDeadline string `json:"challenge_deadline,omitempty"`
}

// Dispute represents the API dispute model (partial).
type Dispute struct {
	ID             string `json:"id"`
	MilestoneID    string `json:"milestone_id"`
	ChallengerID   string `json:"challenger_id"`
	Tier           string `json:"tier"`
	Status         string `json:"status"`
	VotingDeadline string `json:"voting_deadline"`
}

// Tally is the current vote standing of a dispute.
type Tally struct {
	WinningChoice  string `json:"winning_choice"`
	UpholdWeight   int64  `json:"uphold_weight"`
	OverturnWeight int64  `json:"overturn_weight"`
	Voted          int    `json:"voted"`
	Eligible       int    `json:"eligible"`
	QuorumMet      bool   `json:"quorum_met"`
}

// DisputeDetail is a dispute with its milestone and tally.
type DisputeDetail struct {
	Dispute   Dispute       `json:"dispute"`
	Milestone Milestone     `json:"milestone"`
	Tally     Tally         `json:"tally"`
	Remaining TimeRemaining `json:"time_remaining"`
}

// TimeRemaining is a countdown snapshot.
type TimeRemaining struct {
	Hours     int  `json:"hours"`
	Minutes   int  `json:"minutes"`
	Seconds   int  `json:"seconds"`
	IsExpired bool `json:"is_expired"`
}

// Event represents a log entry. Payload is the raw JSON object written
// by the engine; DecodePayload unpacks it.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// DecodePayload unmarshals the event payload into a map.
func (e Event) DecodePayload() (map[string]any, error) {
	if e.Payload == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(e.Payload), &m); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	return m, nil
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ReportResult claims a milestone's outcome and opens the challenge window.
func (c *Client) ReportResult(ctx context.Context, milestoneID string, outcome bool, evidenceURL, evidenceNote string) (Milestone, error) {
	body := map[string]any{
		"outcome":       outcome,
		"evidence_url":  evidenceURL,
		"evidence_note": evidenceNote,
	}
	var resp Milestone
	endpoint := fmt.Sprintf("v0/milestones/%s/report", url.PathEscape(milestoneID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// OpenDispute challenges a reported result.
func (c *Client) OpenDispute(ctx context.Context, milestoneID, reason string) (Dispute, error) {
	body := map[string]any{"reason": reason}
	var resp Dispute
	endpoint := fmt.Sprintf("v0/milestones/%s/disputes", url.PathEscape(milestoneID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GetDispute fetches a dispute with its current tally.
func (c *Client) GetDispute(ctx context.Context, disputeID string) (DisputeDetail, error) {
	var resp DisputeDetail
	endpoint := fmt.Sprintf("v0/disputes/%s", url.PathEscape(disputeID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetDisputeTimer fetches the voting countdown.
func (c *Client) GetDisputeTimer(ctx context.Context, disputeID string) (TimeRemaining, error) {
	var resp TimeRemaining
	endpoint := fmt.Sprintf("v0/disputes/%s/timer", url.PathEscape(disputeID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CastVote records or replaces the caller's ballot.
func (c *Client) CastVote(ctx context.Context, disputeID, choice string) error {
	body := map[string]any{"choice": choice}
	endpoint := fmt.Sprintf("v0/disputes/%s/votes", url.PathEscape(disputeID))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, projectID string, limit int) ([]Event, error) {
	endpoint := "v0/events"
	sep := "?"
	if projectID != "" {
		endpoint = fmt.Sprintf("%s%sproject_id=%s", endpoint, sep, url.QueryEscape(projectID))
		sep = "&"
	}
	if limit > 0 {
		endpoint = fmt.Sprintf("%s%slimit=%d", endpoint, sep, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
