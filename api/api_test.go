package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"listing_alerts/models"
	"listing_alerts/scheduler"
	"listing_alerts/services"
	"listing_alerts/storage"
)

type fakeStatus struct{ status scheduler.Status }

func (f fakeStatus) Status() scheduler.Status { return f.status }

type testAPI struct {
	server *httptest.Server
	store  *storage.SQLiteStore
}

func newTestAPI(t *testing.T, apiKey string) *testAPI {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := NewHandler(
		fakeStatus{scheduler.Status{CheckInterval: "30m0s", Schedule: "every 1m0s"}},
		store,
		services.NewUserService(store),
		services.NewAlertService(store, store),
		services.NewListingService(store, nil, time.Minute),
	)
	srv := httptest.NewServer(NewRouter(h, apiKey))
	t.Cleanup(srv.Close)
	return &testAPI{server: srv, store: store}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *Error          `json:"error"`
}

func (a *testAPI) do(t *testing.T, method, path string, body any, header http.Header) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode, env
}

func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func TestAPIKeyGuardsEverythingButHealth(t *testing.T) {
	a := newTestAPI(t, "secret")

	if code, _ := a.do(t, "GET", "/api/v1/health", nil, nil); code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", code)
	}

	code, env := a.do(t, "GET", "/api/v1/status", nil, nil)
	if code != http.StatusUnauthorized || env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("expected 401 without key, got %d %+v", code, env.Error)
	}
	if code, _ := a.do(t, "GET", "/api/v1/status", nil, http.Header{"X-Api-Key": {"wrong"}}); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", code)
	}
	if code, _ := a.do(t, "GET", "/api/v1/status", nil, http.Header{"X-Api-Key": {"secret"}}); code != http.StatusOK {
		t.Fatalf("expected 200 with X-API-Key, got %d", code)
	}

	code, env = a.do(t, "GET", "/api/v1/status", nil, http.Header{"Authorization": {"Bearer secret"}})
	if code != http.StatusOK {
		t.Fatalf("expected 200 with bearer, got %d", code)
	}
	var status scheduler.Status
	decodeData(t, env, &status)
	if status.CheckInterval != "30m0s" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	a := newTestAPI(t, "")

	req, _ := http.NewRequest("GET", a.server.URL+"/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	resp, err = http.Get(a.server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}
}

func TestUserAlertLifecycle(t *testing.T) {
	a := newTestAPI(t, "")

	code, env := a.do(t, "POST", "/api/v1/users", map[string]any{"chat_id": 4242, "first_name": "Wanjiru"}, nil)
	if code != http.StatusOK {
		t.Fatalf("create user: expected 200, got %d %+v", code, env.Error)
	}
	var user models.User
	decodeData(t, env, &user)
	if user.ID == 0 || user.ChatID != 4242 || !user.IsActive {
		t.Fatalf("unexpected user %+v", user)
	}
	userPath := "/api/v1/users/" + itoa(user.ID)

	code, env = a.do(t, "POST", userPath+"/alerts", map[string]any{"location": "Lavington", "min_bedrooms": 3}, nil)
	if code != http.StatusCreated {
		t.Fatalf("create alert: expected 201, got %d %+v", code, env.Error)
	}
	var alert models.AlertSubscription
	decodeData(t, env, &alert)
	if alert.Location == nil || *alert.Location != "Lavington" || alert.MinBedrooms == nil || *alert.MinBedrooms != 3 {
		t.Fatalf("unexpected alert %+v", alert)
	}

	_, env = a.do(t, "GET", userPath+"/alerts", nil, nil)
	var alerts []models.AlertSubscription
	decodeData(t, env, &alerts)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 active alert, got %d", len(alerts))
	}

	// another user cannot touch it
	_, env = a.do(t, "POST", "/api/v1/users", map[string]any{"chat_id": 5151}, nil)
	var other models.User
	decodeData(t, env, &other)
	if code, _ := a.do(t, "DELETE", "/api/v1/users/"+itoa(other.ID)+"/alerts/"+itoa(alert.ID), nil, nil); code != http.StatusNotFound {
		t.Fatalf("foreign delete: expected 404, got %d", code)
	}

	if code, _ := a.do(t, "POST", userPath+"/alerts/"+itoa(alert.ID)+"/deactivate", nil, nil); code != http.StatusNoContent {
		t.Fatalf("deactivate: expected 204, got %d", code)
	}
	_, env = a.do(t, "GET", userPath+"/alerts", nil, nil)
	alerts = nil
	decodeData(t, env, &alerts)
	if len(alerts) != 0 {
		t.Fatalf("expected no active alerts after deactivate, got %d", len(alerts))
	}

	if code, _ := a.do(t, "DELETE", userPath+"/alerts/"+itoa(alert.ID), nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", code)
	}
	if code, _ := a.do(t, "DELETE", userPath+"/alerts/"+itoa(alert.ID), nil, nil); code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", code)
	}

	if code, _ := a.do(t, "PUT", userPath+"/active", map[string]any{"active": false}, nil); code != http.StatusNoContent {
		t.Fatalf("deactivate user: expected 204, got %d", code)
	}
	_, env = a.do(t, "GET", userPath, nil, nil)
	decodeData(t, env, &user)
	if user.IsActive {
		t.Fatal("expected user to be inactive")
	}
}

func TestCreateAlertValidation(t *testing.T) {
	a := newTestAPI(t, "")
	u, err := a.store.GetOrCreateUser(context.Background(), &models.User{ChatID: 77})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	path := "/api/v1/users/" + itoa(u.ID) + "/alerts"

	tests := []struct {
		name     string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"negative price", path, map[string]any{"min_price": -1}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"inverted range", path, map[string]any{"min_price": 200, "max_price": 100}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad json", path, "not an object", http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown user", "/api/v1/users/999/alerts", map[string]any{"min_bedrooms": 2}, http.StatusNotFound, "NOT_FOUND"},
		{"bad user id", "/api/v1/users/abc/alerts", map[string]any{}, http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := a.do(t, "POST", tt.path, tt.body, nil)
			if code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, code)
			}
			if env.Error == nil || env.Error.Code != tt.wantErr {
				t.Fatalf("expected error code %s, got %+v", tt.wantErr, env.Error)
			}
		})
	}

	code, env := a.do(t, "POST", "/api/v1/users", map[string]any{"first_name": "no chat"}, nil)
	if code != http.StatusBadRequest || len(env.Error.Details) != 1 || env.Error.Details[0].Field != "chat_id" {
		t.Fatalf("expected chat_id validation error, got %d %+v", code, env.Error)
	}
}

func TestCreateCommand(t *testing.T) {
	a := newTestAPI(t, "")

	code, _ := a.do(t, "POST", "/api/v1/commands", map[string]any{"command": "run_cycle", "force": true}, nil)
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	if code, _ := a.do(t, "POST", "/api/v1/commands", map[string]any{"command": "reboot"}, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown command: expected 400, got %d", code)
	}

	cmds, err := a.store.GetPendingCommands(context.Background())
	if err != nil {
		t.Fatalf("pending commands: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Command != models.CmdRunCycle {
		t.Fatalf("unexpected commands %+v", cmds)
	}
	params, err := storage.ParseCommandParams(&cmds[0])
	if err != nil || !params.Force {
		t.Fatalf("expected force param, got %+v (%v)", params, err)
	}
}

func TestCyclesAndLogs(t *testing.T) {
	a := newTestAPI(t, "")
	ctx := context.Background()

	runID, err := a.store.CreateRun(ctx, &models.CycleRun{StartedAt: time.Now(), Status: models.RunStatusRunning})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := a.store.Log(ctx, &runID, models.LogLevelInfo, "fetched 2 listings"); err != nil {
		t.Fatalf("log: %v", err)
	}

	code, env := a.do(t, "GET", "/api/v1/cycles?limit=5", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("cycles: expected 200, got %d", code)
	}
	var runs []models.CycleRun
	decodeData(t, env, &runs)
	if len(runs) != 1 || runs[0].ID != runID {
		t.Fatalf("unexpected runs %+v", runs)
	}

	_, env = a.do(t, "GET", "/api/v1/cycles/"+itoa(runID)+"/logs", nil, nil)
	var logs []models.CycleLog
	decodeData(t, env, &logs)
	if len(logs) != 1 || logs[0].Message != "fetched 2 listings" {
		t.Fatalf("unexpected logs %+v", logs)
	}

	if code, _ := a.do(t, "GET", "/api/v1/cycles?limit=-1", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", code)
	}
}

func TestBrowseListings(t *testing.T) {
	a := newTestAPI(t, "")
	ctx := context.Background()

	loc := "Lavington"
	l := &models.Listing{ExternalID: 1201, Title: "Villa", Location: &loc, URL: "https://example.com/villa"}
	if _, err := a.store.UpsertListing(ctx, l); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	_, env := a.do(t, "GET", "/api/v1/locations", nil, nil)
	var locs []string
	decodeData(t, env, &locs)
	if len(locs) != 1 || locs[0] != "Lavington" {
		t.Fatalf("unexpected locations %v", locs)
	}

	_, env = a.do(t, "GET", "/api/v1/locations/Lavington/listings", nil, nil)
	var listings []models.Listing
	decodeData(t, env, &listings)
	if len(listings) != 1 || listings[0].ExternalID != 1201 {
		t.Fatalf("unexpected listings %+v", listings)
	}

	code, env := a.do(t, "GET", "/api/v1/listings/"+itoa(l.ID), nil, nil)
	if code != http.StatusOK {
		t.Fatalf("get listing: expected 200, got %d", code)
	}
	var got models.Listing
	decodeData(t, env, &got)
	if got.Title != "Villa" {
		t.Fatalf("unexpected listing %+v", got)
	}

	if code, _ := a.do(t, "GET", "/api/v1/listings/9999", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing listing: expected 404, got %d", code)
	}
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
