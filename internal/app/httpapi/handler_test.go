package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	app "github.com/savepop/savepop/internal/app"
)

func newTestHandler(t *testing.T, appOpts app.Options, opts Options) http.Handler {
	t.Helper()
	application, err := app.New(app.Stores{}, appOpts, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	return NewHandler(application, opts)
}

func do(t *testing.T, h http.Handler, method, url, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(marshal(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, url, reader)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func marshal(v any) []byte {
	buf, _ := json.Marshal(v)
	return buf
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", resp.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, resp *httptest.ResponseRecorder, want int) {
	t.Helper()
	if resp.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, resp.Code, resp.Body.String())
	}
}

func TestGoalLifecycle(t *testing.T) {
	h := newTestHandler(t, app.Options{}, Options{})

	resp := do(t, h, http.MethodPost, "/api/goals", "alice", map[string]any{
		"name":          "Bike",
		"category":      "shopping",
		"target_amount": "100",
		"target_date":   time.Now().AddDate(0, 3, 0).Format("2006-01-02"),
	})
	expectStatus(t, resp, http.StatusCreated)
	created := decode(t, resp)
	id := created["id"].(string)
	if created["status"] != "active" {
		t.Fatalf("expected active goal, got %v", created["status"])
	}

	resp = do(t, h, http.MethodGet, "/api/goals?status=active", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	var listed []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &listed); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one active goal, got %d", len(listed))
	}

	req := httptest.NewRequest(http.MethodPost, "/api/goals/"+id+"/contribute", bytes.NewReader(marshal(map[string]any{"amount": "40"})))
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("Idempotency-Key", "payday")
	first := httptest.NewRecorder()
	h.ServeHTTP(first, req)
	expectStatus(t, first, http.StatusOK)
	if decode(t, first)["replayed"] != false {
		t.Fatalf("first contribution should not be a replay")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/goals/"+id+"/contribute", bytes.NewReader(marshal(map[string]any{"amount": "40"})))
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("Idempotency-Key", "payday")
	second := httptest.NewRecorder()
	h.ServeHTTP(second, req)
	expectStatus(t, second, http.StatusOK)
	if decode(t, second)["replayed"] != true {
		t.Fatalf("retry should replay the recorded outcome")
	}

	resp = do(t, h, http.MethodGet, "/api/goals/"+id, "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode(t, resp)["current_amount"]; got != "40" {
		t.Fatalf("expected current 40 after replayed retry, got %v", got)
	}

	resp = do(t, h, http.MethodDelete, "/api/goals/"+id, "alice", nil)
	expectStatus(t, resp, http.StatusConflict)
	if decode(t, resp)["error"] != "IllegalTransition" {
		t.Fatalf("expected IllegalTransition, got %s", resp.Body.String())
	}

	resp = do(t, h, http.MethodPost, "/api/goals/"+id+"/contribute", "alice", map[string]any{"amount": 60})
	expectStatus(t, resp, http.StatusOK)
	resp = do(t, h, http.MethodPost, "/api/goals/"+id+"/archive", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	resp = do(t, h, http.MethodDelete, "/api/goals/"+id, "alice", nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp = do(t, h, http.MethodGet, "/api/goals/"+id, "alice", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestGoalErrorsRenderTypedBody(t *testing.T) {
	h := newTestHandler(t, app.Options{}, Options{})

	resp := do(t, h, http.MethodPost, "/api/goals", "alice", map[string]any{"name": "Bad", "target_amount": "-5"})
	expectStatus(t, resp, http.StatusBadRequest)
	body := decode(t, resp)
	if body["error"] != "InvalidAmount" || body["message"] == "" {
		t.Fatalf("unexpected error body: %v", body)
	}

	resp = do(t, h, http.MethodGet, "/api/goals?status=someday", "alice", nil)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = do(t, h, http.MethodPost, "/api/goals", "alice", map[string]any{"name": "Car", "target_amount": "500", "colour": "red"})
	expectStatus(t, resp, http.StatusBadRequest)
	if decode(t, resp)["error"] != "InvalidInput" {
		t.Fatalf("unknown fields should be rejected: %s", resp.Body.String())
	}

	resp = do(t, h, http.MethodPost, "/api/goals", "alice", map[string]any{"name": "Car", "target_amount": "500"})
	expectStatus(t, resp, http.StatusCreated)
	id := decode(t, resp)["id"].(string)

	resp = do(t, h, http.MethodGet, "/api/goals/"+id, "mallory", nil)
	expectStatus(t, resp, http.StatusForbidden)
	if decode(t, resp)["error"] != "Unauthorized" {
		t.Fatalf("expected Unauthorized, got %s", resp.Body.String())
	}

	resp = do(t, h, http.MethodPost, "/api/goals/"+id+"/contribute", "alice", map[string]any{"amount": "0"})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = do(t, h, http.MethodGet, "/api/goals/missing", "alice", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestReorderAndUpdate(t *testing.T) {
	h := newTestHandler(t, app.Options{}, Options{})

	var ids []string
	for _, name := range []string{"A", "B"} {
		resp := do(t, h, http.MethodPost, "/api/goals", "alice", map[string]any{"name": name, "target_amount": "300"})
		expectStatus(t, resp, http.StatusCreated)
		ids = append(ids, decode(t, resp)["id"].(string))
	}

	resp := do(t, h, http.MethodPost, "/api/goals/reorder", "alice", map[string]any{"goal_ids": []string{ids[1], ids[0]}})
	expectStatus(t, resp, http.StatusOK)
	var ordered []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &ordered); err != nil {
		t.Fatalf("unmarshal reorder: %v", err)
	}
	if ordered[0]["id"] != ids[1] || ordered[0]["status"] != "active" {
		t.Fatalf("expected B active first, got %v", ordered[0])
	}

	resp = do(t, h, http.MethodPatch, "/api/goals/"+ids[0], "alice", map[string]any{"target_amount": "1000"})
	expectStatus(t, resp, http.StatusOK)
	if got := decode(t, resp)["total_levels"]; got != float64(20) {
		t.Fatalf("expected 20 levels after raising the target, got %v", got)
	}

	resp = do(t, h, http.MethodPost, "/api/goals/expire", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode(t, resp)["expired"]; len(got.([]any)) != 0 {
		t.Fatalf("nothing should expire, got %v", got)
	}
}

func TestGridAndVetoFlow(t *testing.T) {
	h := newTestHandler(t, app.Options{Quorum: 1}, Options{})

	resp := do(t, h, http.MethodPost, "/api/grid/place", "alice", map[string]any{"cell": 0, "item": "tree"})
	expectStatus(t, resp, http.StatusPaymentRequired)

	resp = do(t, h, http.MethodPost, "/api/goals", "alice", map[string]any{"name": "Fund", "target_amount": "100"})
	expectStatus(t, resp, http.StatusCreated)
	id := decode(t, resp)["id"].(string)
	resp = do(t, h, http.MethodPost, "/api/goals/"+id+"/contribute", "alice", map[string]any{"amount": "100"})
	expectStatus(t, resp, http.StatusOK)

	for cell := 0; cell < 5; cell++ {
		resp = do(t, h, http.MethodPost, "/api/grid/place", "alice", map[string]any{"cell": cell, "item": "tree"})
		expectStatus(t, resp, http.StatusCreated)
	}
	resp = do(t, h, http.MethodPost, "/api/grid/place", "alice", map[string]any{"cell": 0, "item": "bench"})
	expectStatus(t, resp, http.StatusConflict)
	resp = do(t, h, http.MethodPost, "/api/grid/place", "alice", map[string]any{"cell": 25, "item": "bench"})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = do(t, h, http.MethodGet, "/api/grid", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	tally := decode(t, resp)["tally"].(map[string]any)
	if tally["approve_tokens"] != float64(1) || tally["veto_tokens"] != float64(1) {
		t.Fatalf("unexpected tally: %v", tally)
	}

	resp = do(t, h, http.MethodPost, "/api/veto-requests", "bob", map[string]any{"item": "headphones", "amount": "80", "reason": "on sale"})
	expectStatus(t, resp, http.StatusCreated)
	reqID := decode(t, resp)["id"].(string)

	resp = do(t, h, http.MethodPost, "/api/veto-requests/"+reqID+"/votes", "bob", map[string]any{"verdict": "approve"})
	expectStatus(t, resp, http.StatusForbidden)

	resp = do(t, h, http.MethodPost, "/api/veto-requests/"+reqID+"/votes", "alice", map[string]any{"verdict": "approve"})
	expectStatus(t, resp, http.StatusOK)
	if got := decode(t, resp)["status"]; got != "approved" {
		t.Fatalf("expected approved with quorum 1, got %v", got)
	}

	resp = do(t, h, http.MethodPost, "/api/veto-requests/"+reqID+"/votes", "carol", map[string]any{"verdict": "veto"})
	expectStatus(t, resp, http.StatusConflict)
	if decode(t, resp)["error"] != "AlreadyDecided" {
		t.Fatalf("expected AlreadyDecided, got %s", resp.Body.String())
	}

	resp = do(t, h, http.MethodGet, "/api/veto-requests", "alice", nil)
	expectStatus(t, resp, http.StatusOK)

	resp = do(t, h, http.MethodGet, "/api/veto-requests/"+reqID, "bob", nil)
	expectStatus(t, resp, http.StatusOK)
	resp = do(t, h, http.MethodGet, "/api/veto-requests/"+reqID, "carol", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestRewardsEndpoints(t *testing.T) {
	h := newTestHandler(t, app.Options{}, Options{})

	resp := do(t, h, http.MethodPost, "/api/rewards/daily-login", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	if decode(t, resp)["awarded"] != true {
		t.Fatalf("first login of the day should award")
	}
	resp = do(t, h, http.MethodPost, "/api/rewards/daily-login", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	if decode(t, resp)["awarded"] != false {
		t.Fatalf("second login of the day should not award")
	}

	resp = do(t, h, http.MethodGet, "/api/rewards/balance", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	bal := decode(t, resp)
	if bal["points"] != float64(5) || bal["rank"] != float64(1) {
		t.Fatalf("unexpected balance: %v", bal)
	}

	resp = do(t, h, http.MethodGet, "/api/rewards/leaderboard?limit=5", "bob", nil)
	expectStatus(t, resp, http.StatusOK)
	resp = do(t, h, http.MethodGet, "/api/rewards/history?limit=nope", "alice", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp = do(t, h, http.MethodGet, "/api/rewards/history", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestQuestEndpoints(t *testing.T) {
	h := newTestHandler(t, app.Options{}, Options{})

	resp := do(t, h, http.MethodGet, "/api/quests", "alice", nil)
	expectStatus(t, resp, http.StatusOK)

	resp = do(t, h, http.MethodPost, "/api/quests/zero_spend_day/accept", "alice", nil)
	expectStatus(t, resp, http.StatusCreated)
	assignment := decode(t, resp)["id"].(string)

	resp = do(t, h, http.MethodPost, "/api/quests/zero_spend_day/accept", "alice", nil)
	expectStatus(t, resp, http.StatusConflict)
	resp = do(t, h, http.MethodPost, "/api/quests/moon_landing/accept", "alice", nil)
	expectStatus(t, resp, http.StatusNotFound)

	resp = do(t, h, http.MethodPost, "/api/quests/assignments/"+assignment+"/complete", "bob", nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp = do(t, h, http.MethodPost, "/api/quests/assignments/"+assignment+"/complete", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	resp = do(t, h, http.MethodPost, "/api/quests/assignments/"+assignment+"/complete", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	if applied := decode(t, resp)["reward"].(map[string]any)["applied"]; applied != false {
		t.Fatalf("repeated completion must not credit again, got applied=%v", applied)
	}

	resp = do(t, h, http.MethodGet, "/api/quests/assignments", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestAuthRequired(t *testing.T) {
	h := newTestHandler(t, app.Options{}, Options{})

	resp := do(t, h, http.MethodGet, "/api/goals", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	if decode(t, resp)["error"] != "Unauthenticated" {
		t.Fatalf("expected Unauthenticated, got %s", resp.Body.String())
	}

	resp = do(t, h, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	h := newTestHandler(t, app.Options{}, Options{JWTSecret: secret})

	token, err := IssueToken(secret, "alice", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/rewards/balance", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	expectStatus(t, resp, http.StatusOK)
	if decode(t, resp)["user_id"] != "alice" {
		t.Fatalf("expected alice's balance, got %s", resp.Body.String())
	}

	forged, err := IssueToken("other-secret", "alice", jwt.RegisteredClaims{})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/rewards/balance", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	expectStatus(t, resp, http.StatusUnauthorized)

	expired, err := IssueToken(secret, "alice", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/rewards/balance", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = do(t, h, http.MethodGet, "/api/rewards/balance", "alice", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestRateLimit(t *testing.T) {
	h := newTestHandler(t, app.Options{}, Options{RateLimit: 1, RateBurst: 1})

	resp := do(t, h, http.MethodGet, "/api/goals", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	resp = do(t, h, http.MethodGet, "/api/goals", "alice", nil)
	expectStatus(t, resp, http.StatusTooManyRequests)

	resp = do(t, h, http.MethodGet, "/api/goals", "bob", nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestActivityLog(t *testing.T) {
	h := newTestHandler(t, app.Options{}, Options{})

	for i := 0; i < 3; i++ {
		resp := do(t, h, http.MethodPost, "/api/goals", "alice", map[string]any{"name": fmt.Sprintf("G%d", i), "target_amount": "10"})
		expectStatus(t, resp, http.StatusCreated)
	}
	do(t, h, http.MethodPost, "/api/rewards/daily-login", "bob", nil)

	resp := do(t, h, http.MethodGet, "/api/activity?limit=2", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	var entries []auditEntry
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal activity: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.User != "alice" || e.Route != "/api/goals" || e.Status != http.StatusCreated {
			t.Fatalf("unexpected entry: %+v", e)
		}
	}
}

func TestServicesEndpoint(t *testing.T) {
	h := newTestHandler(t, app.Options{}, Options{})
	resp := do(t, h, http.MethodGet, "/api/system/services", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	var descs []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &descs); err != nil {
		t.Fatalf("unmarshal descriptors: %v", err)
	}
	if len(descs) != 7 {
		t.Fatalf("expected 7 services, got %d", len(descs))
	}
}
