package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/rewards"
	"loyaltydesk.org/internal/stream"
)

func waitForSubscribers(t *testing.T, hub *stream.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscribers", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamDeliversOwnEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	userID, token := env.signUp(t, "user@example.com", auth.RoleUser)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/me/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	waitForSubscribers(t, env.api.Hub, 1)
	env.api.Hub.Publish(stream.BalanceChanged("someone-else", 5))
	env.api.Hub.Publish(stream.BalanceChanged(userID, 42))

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt stream.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.PrincipalID != userID {
			t.Fatalf("received event for %q", evt.PrincipalID)
		}
		if evt.Kind != stream.KindBalanceChanged {
			t.Fatalf("unexpected kind %q", evt.Kind)
		}
		return
	}
	t.Fatalf("stream ended without event: %v", scanner.Err())
}

func nextSSEData(t *testing.T, scanner *bufio.Scanner, v any) {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), v); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return
	}
	t.Fatalf("stream ended without data: %v", scanner.Err())
}

func TestRewardsStreamRecomputesTier(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	userID, token := env.signUp(t, "user@example.com", auth.RoleUser)
	_, staffToken := env.signUp(t, "staff@example.com", auth.RoleStaff)
	for _, tier := range []rewards.Tier{{ID: "bronze", Name: "Bronze"}, {ID: "silver", Name: "Silver", MinPoints: 100}} {
		if _, err := env.catalog.CreateTier(ctx, tier); err != nil {
			t.Fatalf("create tier: %v", err)
		}
	}
	for _, m := range []rewards.Milestone{{ID: "m100", Name: "Mug", PointsRequired: 100}, {ID: "m200", Name: "Hoodie", PointsRequired: 200}} {
		if _, err := env.catalog.CreateMilestone(ctx, m); err != nil {
			t.Fatalf("create milestone: %v", err)
		}
	}

	srv := httptest.NewServer(env.handler)
	defer srv.Close()
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/v1/me/rewards/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	type frame struct {
		Balance       int64              `json:"balance"`
		Tier          *rewards.Tier      `json:"tier"`
		NextMilestone *rewards.Milestone `json:"next_milestone"`
	}
	scanner := bufio.NewScanner(resp.Body)
	var first frame
	nextSSEData(t, scanner, &first)
	if first.Balance != 0 || first.Tier == nil || first.Tier.ID != "bronze" || first.NextMilestone == nil || first.NextMilestone.ID != "m100" {
		t.Fatalf("unexpected initial snapshot %+v", first)
	}

	rr := env.do(t, http.MethodPost, "/v1/admin/transactions", staffToken, map[string]any{
		"principal_id": userID,
		"delta":        150,
		"description":  "welcome bonus",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("adjust points: %d %s", rr.Code, rr.Body.String())
	}

	var next frame
	nextSSEData(t, scanner, &next)
	if next.Balance != 150 || next.Tier == nil || next.Tier.ID != "silver" {
		t.Fatalf("expected silver tier at 150, got %+v", next)
	}
	if next.NextMilestone == nil || next.NextMilestone.ID != "m200" {
		t.Fatalf("expected next milestone m200, got %+v", next.NextMilestone)
	}
}

func TestStreamWSRequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/me/events/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake failure without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
}

func TestStreamWSDeliversEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	userID, token := env.signUp(t, "user@example.com", auth.RoleUser)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/me/events/ws?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForSubscribers(t, env.api.Hub, 1)
	env.api.Hub.Publish(stream.BalanceChanged(userID, 7))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt stream.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read: %v", err)
	}
	if evt.PrincipalID != userID || evt.Payload["balance"] != float64(7) {
		t.Fatalf("unexpected event %+v", evt)
	}
}
