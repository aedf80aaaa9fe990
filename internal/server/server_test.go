package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"blueprintcourt/internal/config"
	"blueprintcourt/internal/db"
	"blueprintcourt/internal/engine"
	"blueprintcourt/internal/migrate"
	"blueprintcourt/internal/registry"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("court-test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := registry.Registry{DB: conn, ExpertPanelSize: cfg.Court.Tier.ExpertPanelSize}
	e := engine.New(conn, cfg, reg, nil)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no credentials: status %d, want 401", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d, want 401", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{
		"Authorization": "Bearer " + signToken(t, "creator-1"),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("valid token: status %d, want 200", res.StatusCode)
	}
	// Health stays open.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: status %d, want 200", res.StatusCode)
	}
}

func TestDisputeLifecycleHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	reason := "the linked demo video shows last quarter's build, none of the promised integrations are present in it"

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"title": "Build the thing",
	}, asActor("creator-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: status %d: %s", res.StatusCode, data)
	}
	var project struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/milestones", map[string]any{
		"title": "Ship v1",
	}, asActor("creator-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create milestone: status %d: %s", res.StatusCode, data)
	}
	var milestone struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &milestone); err != nil {
		t.Fatalf("unmarshal milestone: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/milestones/"+milestone.ID+"/investments", map[string]any{
		"amount_cents": 500,
	}, asActor("backer-1"))
	if res.StatusCode >= 300 {
		t.Fatalf("invest: status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/accounts/deposit", map[string]any{
		"amount": 200,
	}, asActor("backer-1"))
	if res.StatusCode >= 300 {
		t.Fatalf("deposit: status %d: %s", res.StatusCode, data)
	}

	// Only the creator may report.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/milestones/"+milestone.ID+"/report", map[string]any{
		"outcome": true,
	}, asActor("backer-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-creator report: status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/milestones/"+milestone.ID+"/report", map[string]any{
		"outcome": true,
	}, asActor("creator-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("report: status %d: %s", res.StatusCode, data)
	}
	var reported struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(data, &reported)
	if reported.Status != "locked" {
		t.Fatalf("milestone status = %s, want locked", reported.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/milestones/"+milestone.ID+"/disputes", map[string]any{
		"reason": reason,
	}, asActor("backer-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("open dispute: status %d: %s", res.StatusCode, data)
	}
	var dispute struct {
		ID   string `json:"id"`
		Tier string `json:"tier"`
	}
	if err := json.Unmarshal(data, &dispute); err != nil {
		t.Fatalf("unmarshal dispute: %v", err)
	}
	if dispute.Tier != "expert" {
		t.Fatalf("tier = %s, want expert", dispute.Tier)
	}

	// A second dispute on the same milestone conflicts.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/milestones/"+milestone.ID+"/disputes", map[string]any{
		"reason": reason,
	}, asActor("backer-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second dispute: status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "already_disputed" {
		t.Fatalf("error code = %q: %s", envelope.Error.Code, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/disputes/"+dispute.ID+"/votes", map[string]any{
		"choice": "overturn",
	}, asActor("backer-1"))
	if res.StatusCode >= 300 {
		t.Fatalf("vote: status %d: %s", res.StatusCode, data)
	}
	// Non-panelists are rejected.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/disputes/"+dispute.ID+"/votes", map[string]any{
		"choice": "overturn",
	}, asActor("stranger"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger vote: status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/disputes/"+dispute.ID, nil, asActor("backer-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detail: status %d: %s", res.StatusCode, data)
	}
	var detail struct {
		Tally struct {
			Voted          int   `json:"voted"`
			OverturnWeight int64 `json:"overturn_weight"`
		} `json:"tally"`
	}
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if detail.Tally.Voted != 1 || detail.Tally.OverturnWeight != 1 {
		t.Fatalf("tally = %+v", detail.Tally)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/disputes/"+dispute.ID+"/timer", nil, asActor("backer-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("timer: status %d: %s", res.StatusCode, data)
	}
	var timer struct {
		Hours     int  `json:"hours"`
		IsExpired bool `json:"is_expired"`
	}
	_ = json.Unmarshal(data, &timer)
	if timer.IsExpired || timer.Hours > 72 {
		t.Fatalf("timer = %+v", timer)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/disputes?tier=expert", nil, asActor("backer-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list disputes: status %d: %s", res.StatusCode, data)
	}
	var active struct {
		ExpertTier []json.RawMessage `json:"expert_tier"`
		DAOTier    []json.RawMessage `json:"dao_tier"`
	}
	if err := json.Unmarshal(data, &active); err != nil {
		t.Fatalf("unmarshal active: %v", err)
	}
	if len(active.ExpertTier) != 1 || len(active.DAOTier) != 0 {
		t.Fatalf("active = expert:%d dao:%d", len(active.ExpertTier), len(active.DAOTier))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?project_id="+project.ID, nil, asActor("backer-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: status %d: %s", res.StatusCode, data)
	}
	var events []struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	seen := map[string]bool{}
	for _, ev := range events {
		seen[ev.Type] = true
	}
	for _, want := range []string{"milestone.reported", "dispute.opened", "ballot.cast"} {
		if !seen[want] {
			t.Fatalf("event %s missing from log: %s", want, data)
		}
	}
}

func TestAPIKeyAuthRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"actor_id": "robot-1",
		"name":     "ci",
	}, asActor("admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: status %d: %s", res.StatusCode, data)
	}
	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if created.Key == "" {
		t.Fatalf("plaintext key not returned on create")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"title": "From the robot",
	}, map[string]string{"X-Api-Key": created.Key})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("api key request: status %d: %s", res.StatusCode, data)
	}
	var project struct {
		CreatorID string `json:"creator_id"`
	}
	_ = json.Unmarshal(data, &project)
	if project.CreatorID != "robot-1" {
		t.Fatalf("creator = %s, want the key's actor", project.CreatorID)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/apikeys/"+created.ID, nil, asActor("admin"))
	if res.StatusCode >= 300 {
		t.Fatalf("revoke: status %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"title": "After revoke",
	}, map[string]string{"X-Api-Key": created.Key})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key: status %d, want 401", res.StatusCode)
	}
}
