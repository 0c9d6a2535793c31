package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/agents"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/auth"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/database"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/domain"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/earnings"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/events"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/field"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ledger"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/missions"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/notifications"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ranks"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/streaks"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const testSigningSecret = "router-test-secret"

type apiFixture struct {
	handler http.Handler
	tokens  *auth.TokenIssuer
	ledger  *ledger.Service
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "api.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	})

	table, err := ranks.LoadTable(context.Background(), db)
	if err != nil {
		t.Fatalf("failed to load ranks: %v", err)
	}
	ids := domain.NewUUIDProvider()
	dispatcher := events.NewDispatcher()

	notificationService, err := notifications.NewService(notifications.ServiceConfig{Database: db, IDProvider: ids})
	if err != nil {
		t.Fatalf("failed to build notifications: %v", err)
	}
	agentService, err := agents.NewService(agents.ServiceConfig{Database: db, Ranks: table})
	if err != nil {
		t.Fatalf("failed to build agents: %v", err)
	}
	ledgerService, err := ledger.NewService(ledger.ServiceConfig{
		Database:   db,
		IDProvider: ids,
		Ranks:      table,
		Publisher:  dispatcher,
		Notifier:   notificationService,
	})
	if err != nil {
		t.Fatalf("failed to build ledger: %v", err)
	}
	missionService, err := missions.NewService(missions.ServiceConfig{
		Database:   db,
		IDProvider: ids,
		Awarder:    ledgerService,
		Publisher:  dispatcher,
		Notifier:   notificationService,
	})
	if err != nil {
		t.Fatalf("failed to build missions: %v", err)
	}
	fieldService, err := field.NewService(field.ServiceConfig{
		Database:   db,
		IDProvider: ids,
		Awarder:    ledgerService,
		Tracker:    missionService,
		Rewards:    field.Rewards{RunCompletedXP: field.DefaultRunCompletedXP, StageXP: field.DefaultStageXP()},
	})
	if err != nil {
		t.Fatalf("failed to build field service: %v", err)
	}
	calculator, err := streaks.NewCalculator(streaks.Config{Database: db, Anchor: streaks.AnchorGrace})
	if err != nil {
		t.Fatalf("failed to build streaks: %v", err)
	}
	estimator, err := earnings.NewEstimator(earnings.Config{
		Ranks:       table,
		Agents:      agentService,
		Venues:      fieldService,
		PerVenueFee: decimal.NewFromInt(150),
	})
	if err != nil {
		t.Fatalf("failed to build estimator: %v", err)
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    "streetteam_session",
	})
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        validator.Issuer(),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          validator,
		Agents:            agentService,
		Ledger:            ledgerService,
		Missions:          missionService,
		Field:             fieldService,
		Streaks:           calculator,
		Earnings:          estimator,
		Notifications:     notificationService,
		Events:            dispatcher,
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &apiFixture{handler: handler, tokens: issuer, ledger: ledgerService}
}

func (f *apiFixture) token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	token, _, err := f.tokens.IssueSessionToken(auth.SessionClaims{
		UserID:          userID,
		UserDisplayName: "Agent " + userID,
		UserCity:        "Austin",
		UserRoles:       roles,
	})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)

	payload := map[string]any{}
	if recorder.Body.Len() > 0 {
		if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
			t.Fatalf("failed to decode %s %s response %q: %v", method, path, recorder.Body.String(), err)
		}
	}
	return recorder.Code, payload
}

func nested(t *testing.T, payload map[string]any, keys ...string) any {
	t.Helper()
	var current any = payload
	for _, key := range keys {
		object, ok := current.(map[string]any)
		if !ok {
			t.Fatalf("expected object at %q in %v", key, payload)
		}
		current = object[key]
	}
	return current
}

func TestPublicRoutesAndAuthentication(testContext *testing.T) {
	fixture := newAPIFixture(testContext)

	status, body := fixture.do(testContext, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		testContext.Fatalf("unexpected health response %d %v", status, body)
	}

	status, body = fixture.do(testContext, http.MethodGet, "/ranks", "", nil)
	if status != http.StatusOK {
		testContext.Fatalf("expected 200 from /ranks, got %d", status)
	}
	if tiers, ok := body["ranks"].([]any); !ok || len(tiers) != 6 {
		testContext.Fatalf("expected six seeded tiers, got %v", body["ranks"])
	}

	status, body = fixture.do(testContext, http.MethodGet, "/me", "", nil)
	if status != http.StatusUnauthorized || body["error"] != "unauthorized" || body["success"] != false {
		testContext.Fatalf("expected unauthorized envelope, got %d %v", status, body)
	}

	status, body = fixture.do(testContext, http.MethodGet, "/me", fixture.token(testContext, "agent-1"), nil)
	if status != http.StatusOK {
		testContext.Fatalf("expected 200 from /me, got %d %v", status, body)
	}
	if nested(testContext, body, "agent", "current_rank") != "Bronze" {
		testContext.Fatalf("expected new agent to start at Bronze, got %v", body)
	}
}

func TestRunCompletionAndMissionClaimFlow(testContext *testing.T) {
	fixture := newAPIFixture(testContext)
	token := fixture.token(testContext, "agent-1")

	status, body := fixture.do(testContext, http.MethodPost, "/runs", token, map[string]any{"venue_name": "Blue Note", "city": "Austin"})
	if status != http.StatusCreated {
		testContext.Fatalf("expected 201 from start run, got %d %v", status, body)
	}
	runID, _ := nested(testContext, body, "run", "id").(string)
	if runID == "" {
		testContext.Fatalf("expected run id in %v", body)
	}

	status, body = fixture.do(testContext, http.MethodPost, "/runs/"+runID+"/complete", token, nil)
	if status != http.StatusOK {
		testContext.Fatalf("expected 200 from complete run, got %d %v", status, body)
	}
	if total := nested(testContext, body, "result", "award", "new_total_xp"); total != float64(field.DefaultRunCompletedXP) {
		testContext.Fatalf("expected %d xp after run, got %v", field.DefaultRunCompletedXP, total)
	}
	updates, _ := nested(testContext, body, "result", "missions").([]any)
	completedStarter := false
	for _, raw := range updates {
		update := raw.(map[string]any)
		if update["mission_id"] == "starter-first-run" && update["just_completed"] == true {
			completedStarter = true
		}
	}
	if !completedStarter {
		testContext.Fatalf("expected starter-first-run to complete, got %v", updates)
	}

	status, body = fixture.do(testContext, http.MethodPost, "/runs/"+runID+"/complete", token, nil)
	if status != http.StatusBadRequest || body["error"] != string(domain.KindInvalidInput) {
		testContext.Fatalf("expected invalid_input on second completion, got %d %v", status, body)
	}

	status, body = fixture.do(testContext, http.MethodPost, "/missions/starter-first-run/claim", token, nil)
	if status != http.StatusOK {
		testContext.Fatalf("expected 200 from claim, got %d %v", status, body)
	}
	if total := nested(testContext, body, "claim", "award", "new_total_xp"); total != float64(100) {
		testContext.Fatalf("expected 100 xp after claim, got %v", total)
	}

	status, body = fixture.do(testContext, http.MethodPost, "/missions/starter-first-run/claim", token, nil)
	if status != http.StatusConflict || body["error"] != string(domain.KindRewardAlreadyClaimed) {
		testContext.Fatalf("expected reward_already_claimed, got %d %v", status, body)
	}

	status, body = fixture.do(testContext, http.MethodPost, "/missions/starter-first-lead/claim", token, nil)
	if status != http.StatusNotFound || body["error"] != string(domain.KindMissionOrProgressNotFound) {
		testContext.Fatalf("expected mission_or_progress_not_found, got %d %v", status, body)
	}

	status, body = fixture.do(testContext, http.MethodGet, "/me/xp-events", token, nil)
	if status != http.StatusOK {
		testContext.Fatalf("expected 200 from xp history, got %d", status)
	}
	if history, _ := body["events"].([]any); len(history) != 2 {
		testContext.Fatalf("expected two xp events, got %v", body["events"])
	}

	status, body = fixture.do(testContext, http.MethodGet, "/me/streak", token, nil)
	if status != http.StatusOK || nested(testContext, body, "streak", "current_streak") != float64(1) {
		testContext.Fatalf("expected a one-day streak, got %d %v", status, body)
	}
}

func TestAdminRoutesRequireAdminRole(testContext *testing.T) {
	fixture := newAPIFixture(testContext)
	agentToken := fixture.token(testContext, "agent-1", auth.RoleAgent)
	adminToken := fixture.token(testContext, "admin-1", auth.RoleAdmin)

	award := map[string]any{"user_id": "agent-1", "amount": 1200}
	status, body := fixture.do(testContext, http.MethodPost, "/admin/xp", agentToken, award)
	if status != http.StatusForbidden || body["error"] != string(domain.KindForbidden) {
		testContext.Fatalf("expected forbidden for agent, got %d %v", status, body)
	}

	status, body = fixture.do(testContext, http.MethodPost, "/admin/xp", adminToken, award)
	if status != http.StatusCreated {
		testContext.Fatalf("expected 201 from admin award, got %d %v", status, body)
	}
	if nested(testContext, body, "award", "new_rank") != "Silver" || nested(testContext, body, "award", "rank_up") != true {
		testContext.Fatalf("expected rank up to Silver, got %v", body)
	}

	status, body = fixture.do(testContext, http.MethodPost, "/admin/xp", adminToken, map[string]any{"user_id": "ghost", "amount": 10})
	if status != http.StatusNotFound || body["error"] != string(domain.KindUserNotFound) {
		testContext.Fatalf("expected user_not_found, got %d %v", status, body)
	}

	status, body = fixture.do(testContext, http.MethodPost, "/admin/reconcile", adminToken, nil)
	if status != http.StatusOK || body["repaired"] != float64(0) {
		testContext.Fatalf("expected clean reconcile, got %d %v", status, body)
	}

	status, body = fixture.do(testContext, http.MethodGet, "/me/notifications", agentToken, nil)
	if status != http.StatusOK {
		testContext.Fatalf("expected 200 from notifications, got %d", status)
	}
	if items, _ := body["notifications"].([]any); len(items) == 0 {
		testContext.Fatalf("expected a rank-up notification, got %v", body)
	}
}

func TestLeaderboardDisabledWithoutRedis(testContext *testing.T) {
	fixture := newAPIFixture(testContext)
	status, body := fixture.do(testContext, http.MethodGet, "/leaderboard", fixture.token(testContext, "agent-1"), nil)
	if status != http.StatusNotFound || body["error"] != "not_found" {
		testContext.Fatalf("expected 404 leaderboard, got %d %v", status, body)
	}
}

func TestEarningsFollowLiveVenues(testContext *testing.T) {
	fixture := newAPIFixture(testContext)
	token := fixture.token(testContext, "agent-earn")

	status, body := fixture.do(testContext, http.MethodPost, "/leads", token, map[string]any{"venue_name": "Velvet Room", "contact_name": "Sam"})
	if status != http.StatusCreated {
		testContext.Fatalf("expected 201 from add lead, got %d %v", status, body)
	}
	leadID, _ := nested(testContext, body, "result", "lead", "id").(string)
	if leadID == "" {
		testContext.Fatalf("expected lead id in %v", body)
	}

	status, body = fixture.do(testContext, http.MethodPost, "/leads/"+leadID+"/stage", token, map[string]any{"stage": "live"})
	if status != http.StatusOK {
		testContext.Fatalf("expected 200 from stage change, got %d %v", status, body)
	}

	status, body = fixture.do(testContext, http.MethodPost, "/leads/"+leadID+"/stage", token, map[string]any{"stage": "bogus"})
	if status != http.StatusBadRequest {
		testContext.Fatalf("expected 400 for unknown stage, got %d %v", status, body)
	}

	status, body = fixture.do(testContext, http.MethodGet, "/me/earnings", token, nil)
	if status != http.StatusOK {
		testContext.Fatalf("expected 200 from earnings, got %d %v", status, body)
	}
	if estimate := nested(testContext, body, "earnings", "monthly_estimate"); estimate != "22.50" {
		testContext.Fatalf("expected 22.50 monthly estimate, got %v", estimate)
	}
	if nested(testContext, body, "earnings", "live_venue_count") != float64(1) {
		testContext.Fatalf("expected one live venue, got %v", body)
	}
}

func TestEventStreamDeliversRankUp(testContext *testing.T) {
	fixture := newAPIFixture(testContext)
	server := httptest.NewServer(fixture.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/events/stream", http.NoBody)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+fixture.token(testContext, "agent-sse"))
	response, err := server.Client().Do(request)
	if err != nil {
		testContext.Fatalf("stream request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 from stream, got %d", response.StatusCode)
	}

	reader := bufio.NewReader(response.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, readErr := reader.ReadString('\n')
			if readErr != nil {
				testContext.Fatalf("stream read failed: %v", readErr)
			}
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && name != "":
				return name, data
			}
		}
	}

	if name, _ := readEvent(); name != "ready" {
		testContext.Fatalf("expected ready event first, got %q", name)
	}

	_, err = fixture.ledger.AwardXP(context.Background(), ledger.AwardRequest{
		UserID: domain.UserID("agent-sse"),
		Amount: 2500,
		Source: ledger.SourceManualBonus,
	})
	if err != nil {
		testContext.Fatalf("AwardXP failed: %v", err)
	}

	name, data := readEvent()
	if name != events.KindRankUp {
		testContext.Fatalf("expected rank-up event, got %q", name)
	}
	var event events.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		testContext.Fatalf("failed to decode event data %q: %v", data, err)
	}
	if event.RankUp == nil || event.RankUp.NewRank != "Gold" || event.UserID != "agent-sse" {
		testContext.Fatalf("unexpected rank-up payload %+v", event)
	}
}
