package courtsdk

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"blueprintcourt/internal/config"
	"blueprintcourt/internal/db"
	"blueprintcourt/internal/engine"
	"blueprintcourt/internal/migrate"
	"blueprintcourt/internal/registry"
	"blueprintcourt/internal/server"
)

const testJWTSecret = "sdk-test-secret"

func newBackend(t *testing.T) (string, *engine.Engine) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("court-sdk")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := registry.Registry{DB: conn, ExpertPanelSize: cfg.Court.Tier.ExpertPanelSize}
	e := engine.New(conn, cfg, reg, nil)
	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: testJWTSecret},
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
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return "http://" + ln.Addr().String(), e
}

func signToken(t *testing.T, actorID string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   actorID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

// The SDK structs decode the server's actual wire format, not an
// approximation of it.
func TestClientDecodesServerResponses(t *testing.T) {
	baseURL, e := newBackend(t)
	ctx := context.Background()

	p, err := e.CreateProject(ctx, engine.ProjectOptions{Title: "SDK project", CreatorID: "creator-1", ActorID: "creator-1"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	m, err := e.CreateMilestone(ctx, engine.MilestoneOptions{ProjectID: p.ID, Title: "Ship v1", ActorID: "creator-1"})
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	if err := e.Invest(ctx, m.ID, "backer-1", 500, "backer-1"); err != nil {
		t.Fatalf("invest: %v", err)
	}
	if err := e.Deposit(ctx, "backer-1", 200, "backer-1"); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	creator := New(baseURL)
	creator.BearerToken = signToken(t, "creator-1")
	reported, err := creator.ReportResult(ctx, m.ID, true, "https://example.com/evidence", "shipped")
	if err != nil {
		t.Fatalf("report result: %v", err)
	}
	if reported.Status != "locked" {
		t.Fatalf("reported status = %s, want locked", reported.Status)
	}

	backer := New(baseURL)
	backer.BearerToken = signToken(t, "backer-1")
	reason := strings.Repeat("the delivered build does not match the promised scope ", 3)
	d, err := backer.OpenDispute(ctx, m.ID, reason)
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if d.Tier != "expert" || d.Status != "voting" {
		t.Fatalf("dispute = %+v", d)
	}

	detail, err := backer.GetDispute(ctx, d.ID)
	if err != nil {
		t.Fatalf("get dispute: %v", err)
	}
	if !detail.Milestone.InDispute {
		t.Fatal("milestone.is_in_dispute did not decode as true")
	}
	if detail.Milestone.ChallengeDeadline == "" {
		t.Fatal("challenge deadline missing")
	}
	if err := backer.CastVote(ctx, d.ID, "overturn"); err != nil {
		t.Fatalf("cast vote: %v", err)
	}
	detail, err = backer.GetDispute(ctx, d.ID)
	if err != nil {
		t.Fatalf("get dispute after vote: %v", err)
	}
	if detail.Tally.Voted != 1 || detail.Tally.OverturnWeight != 1 {
		t.Fatalf("tally = %+v", detail.Tally)
	}

	events, err := backer.Events(ctx, p.ID, 50)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var opened *Event
	for i := range events {
		if events[i].Type == "dispute.opened" {
			opened = &events[i]
		}
	}
	if opened == nil {
		t.Fatal("dispute.opened event missing from feed")
	}
	payload, err := opened.DecodePayload()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["milestone_id"] != m.ID {
		t.Fatalf("payload milestone_id = %v, want %s", payload["milestone_id"], m.ID)
	}
	if opened.ActorID != "backer-1" {
		t.Fatalf("event actor = %s, want backer-1", opened.ActorID)
	}
}
