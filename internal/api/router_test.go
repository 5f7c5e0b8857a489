package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/printhub/internal/api/handlers"
	"github.com/orrn/printhub/internal/api/middleware"
	"github.com/orrn/printhub/internal/core"
	"github.com/orrn/printhub/internal/db"
	"github.com/orrn/printhub/internal/ingest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSyncer struct {
	start, end time.Time
	kind       core.TaskKind
}

func (s *fakeSyncer) SyncPaidOrdersBetween(_ context.Context, start, end time.Time) (ingest.Result, error) {
	s.start, s.end, s.kind = start, end, core.TaskKindOrder
	return ingest.Result{Fetched: 3, Created: 2, Skipped: 1}, nil
}

func (s *fakeSyncer) SyncRefundOrdersBetween(_ context.Context, start, end time.Time) (ingest.Result, error) {
	s.start, s.end, s.kind = start, end, core.TaskKindRefund
	return ingest.Result{}, nil
}

type testServer struct {
	router *gin.Engine
	engine *core.TaskEngine
	syncer *fakeSyncer
}

func newTestServer(t *testing.T, auth middleware.AuthConfig, checks map[string]handlers.Check) *testServer {
	t.Helper()
	database, err := db.Open(db.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := core.NewClientRegistry(db.NewClientOperations(database), nil, core.RegistryConfig{Logger: logger})
	engine := core.NewTaskEngine(db.NewTaskOperations(database), db.NewHistoryOperations(database), registry, nil,
		core.EngineConfig{Logger: logger})
	syncer := &fakeSyncer{}

	router := NewRouter(Deps{
		Engine:   engine,
		Registry: registry,
		Syncer:   syncer,
		Cursor:   db.NewCheckpoint(database, 500),
		Auth:     auth,
		Checks:   checks,
		Logger:   logger,
	})
	return &testServer{router: router, engine: engine, syncer: syncer}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, middleware.AuthConfig{Disabled: true}, nil)

	w := s.do(t, http.MethodPost, "/api/print-tasks", map[string]any{
		"orderId": 500, "orderNo": "NO500", "merchantId": 1, "storeId": 7, "content": "{}",
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body)
	}
	task := decode[core.PrintTask](t, w)
	if task.Status != core.TaskStatusPending || task.TaskID == "" {
		t.Fatalf("unexpected task %+v", task)
	}

	w = s.do(t, http.MethodPost, "/api/print-tasks/"+task.TaskID+"/received?clientId=C1", nil, "")
	if w.Code != http.StatusOK || decode[core.PrintTask](t, w).Status != core.TaskStatusPrinting {
		t.Fatalf("received: %d %s", w.Code, w.Body)
	}

	w = s.do(t, http.MethodPut, "/api/print-tasks/"+task.TaskID+"/status", map[string]string{"status": "completed", "clientId": "C1"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", w.Code, w.Body)
	}
	done := decode[core.PrintTask](t, w)
	if done.Status != core.TaskStatusCompleted || done.PrintTime == nil {
		t.Fatalf("unexpected task %+v", done)
	}

	w = s.do(t, http.MethodGet, "/api/print-tasks/"+task.TaskID+"/history", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d", w.Code)
	}
	if history := decode[[]core.PrintHistory](t, w); len(history) != 1 || history[0].Status != core.HistorySuccess {
		t.Fatalf("unexpected history %+v", history)
	}

	w = s.do(t, http.MethodPost, "/api/print-tasks/"+task.TaskID+"/retry", nil, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("retry completed task: %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/print-tasks", map[string]any{
		"taskId": task.TaskID, "orderId": 999, "merchantId": 1, "content": "{}",
	}, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("create with existing id: %d %s", w.Code, w.Body)
	}
	w = s.do(t, http.MethodGet, "/api/print-tasks/"+task.TaskID, nil, "")
	if got := decode[core.PrintTask](t, w); got.Status != core.TaskStatusCompleted || got.OrderID != 500 {
		t.Fatalf("completed task overwritten: %+v", got)
	}
}

func TestTaskErrorsMapToStatusCodes(t *testing.T) {
	s := newTestServer(t, middleware.AuthConfig{Disabled: true}, nil)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown task", http.MethodGet, "/api/print-tasks/missing", nil, http.StatusNotFound},
		{"bad status", http.MethodPut, "/api/print-tasks/missing/status", map[string]string{"status": "done"}, http.StatusBadRequest},
		{"status on unknown task", http.MethodPut, "/api/print-tasks/missing/status", map[string]string{"status": "FAILED"}, http.StatusNotFound},
		{"create without merchant", http.MethodPost, "/api/print-tasks", map[string]any{"content": "{}"}, http.StatusBadRequest},
		{"bad kind", http.MethodPost, "/api/print-tasks", map[string]any{"merchantId": 1, "content": "{}", "kind": "VOID"}, http.StatusBadRequest},
		{"pending without scope", http.MethodGet, "/api/print-tasks/pending", nil, http.StatusBadRequest},
		{"bad merchant id", http.MethodGet, "/api/print-tasks/merchant/abc", nil, http.StatusBadRequest},
		{"test task without merchant", http.MethodPost, "/api/print-tasks/test", nil, http.StatusBadRequest},
		{"heartbeat unknown client", http.MethodPut, "/api/clients/ghost/heartbeat", nil, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := s.do(t, tc.method, tc.path, tc.body, ""); w.Code != tc.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.want, w.Body)
			}
		})
	}
}

func TestPendingAndMerchantListings(t *testing.T) {
	s := newTestServer(t, middleware.AuthConfig{Disabled: true}, nil)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if _, err := s.engine.Submit(ctx, &core.PrintTask{OrderID: i, MerchantID: 1, StoreID: 7}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if _, err := s.engine.Submit(ctx, &core.PrintTask{OrderID: 9, MerchantID: 2}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	w := s.do(t, http.MethodGet, "/api/print-tasks/pending?storeId=7", nil, "")
	if n := len(decode[[]core.PrintTask](t, w)); n != 3 {
		t.Fatalf("pending for store = %d", n)
	}

	w = s.do(t, http.MethodGet, "/api/print-tasks/merchant/1?page=0&size=2", nil, "")
	page := decode[handlers.TaskPageResponse](t, w)
	if page.Total != 3 || len(page.Tasks) != 2 || page.Size != 2 {
		t.Fatalf("unexpected page %+v", page)
	}

	w = s.do(t, http.MethodPost, "/api/print-tasks/test?merchantId=2", nil, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("test task: %d %s", w.Code, w.Body)
	}
	if task := decode[core.PrintTask](t, w); task.Priority != core.PriorityHigh || len(task.OrderNo) < 6 || task.OrderNo[:5] != "TEST_" {
		t.Fatalf("unexpected test task %+v", task)
	}
}

func TestClientEndpoints(t *testing.T) {
	s := newTestServer(t, middleware.AuthConfig{Disabled: true}, nil)

	w := s.do(t, http.MethodPost, "/api/clients/register", map[string]any{
		"clientId": "C1", "clientName": "front till", "merchantId": 1, "storeId": 7,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("register: %d %s", w.Code, w.Body)
	}
	client := decode[core.PrintClient](t, w)
	if !client.Online || client.IPAddress == "" {
		t.Fatalf("unexpected client %+v", client)
	}

	if w := s.do(t, http.MethodPut, "/api/clients/C1/heartbeat", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("heartbeat: %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/clients?merchantId=1", nil, "")
	if live := decode[[]core.PrintClient](t, w); len(live) != 1 || live[0].ClientID != "C1" {
		t.Fatalf("live clients %+v", live)
	}
	w = s.do(t, http.MethodGet, "/api/clients?storeId=8", nil, "")
	if live := decode[[]core.PrintClient](t, w); len(live) != 0 {
		t.Fatalf("expected no clients for store 8, got %+v", live)
	}
}

func TestSyncEndpoints(t *testing.T) {
	s := newTestServer(t, middleware.AuthConfig{Disabled: true}, nil)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	w := s.do(t, http.MethodPost, "/api/sync/orders", map[string]time.Time{"start": start, "end": end}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("sync orders: %d %s", w.Code, w.Body)
	}
	if res := decode[ingest.Result](t, w); res.Created != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !s.syncer.start.Equal(start) || s.syncer.kind != core.TaskKindOrder {
		t.Fatalf("syncer called with %+v", s.syncer)
	}

	w = s.do(t, http.MethodPost, "/api/sync/refunds", map[string]time.Time{"start": end, "end": start}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("inverted range: %d", w.Code)
	}
}

func TestSyncCursorEndpoints(t *testing.T) {
	s := newTestServer(t, middleware.AuthConfig{Disabled: true}, nil)

	w := s.do(t, http.MethodGet, "/api/settings/sync-cursor", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get cursor: %d %s", w.Code, w.Body)
	}
	if got := decode[handlers.SyncCursorResponse](t, w); got.LastSyncOrderID != 500 {
		t.Fatalf("initial cursor = %d, want 500", got.LastSyncOrderID)
	}

	w = s.do(t, http.MethodPut, "/api/settings/sync-cursor", map[string]int64{"lastSyncOrderId": 42}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("put cursor: %d %s", w.Code, w.Body)
	}
	w = s.do(t, http.MethodGet, "/api/settings/sync-cursor", nil, "")
	if got := decode[handlers.SyncCursorResponse](t, w); got.LastSyncOrderID != 42 {
		t.Fatalf("cursor after update = %d, want 42", got.LastSyncOrderID)
	}

	for _, body := range []any{map[string]int64{"lastSyncOrderId": -1}, map[string]string{}} {
		if w := s.do(t, http.MethodPut, "/api/settings/sync-cursor", body, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("body %v: %d", body, w.Code)
		}
	}
}

func TestArchiveEndpointsWithoutArchiver(t *testing.T) {
	s := newTestServer(t, middleware.AuthConfig{Disabled: true}, nil)

	w := s.do(t, http.MethodGet, "/api/archives", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list archives: %d %s", w.Code, w.Body)
	}
	if got := decode[handlers.ArchiveListResponse](t, w); got.Count != 0 || got.Archives == nil {
		t.Fatalf("unexpected listing %+v", got)
	}

	w = s.do(t, http.MethodPost, "/api/archives/run", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("run cleanup: %d %s", w.Code, w.Body)
	}
	if got := decode[map[string]int](t, w); got["purged"] != 0 {
		t.Fatalf("purged %d tasks from an empty store", got["purged"])
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, middleware.AuthConfig{Disabled: true}, map[string]handlers.Check{
		"sqlite": func(context.Context) error { return nil },
		"redis":  func(context.Context) error { return errors.New("connection refused") },
	})

	if w := s.do(t, http.MethodGet, "/healthz", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	w := s.do(t, http.MethodGet, "/readyz", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: %d", w.Code)
	}
	body := decode[struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
	}](t, w)
	if body.Ready || body.Checks["sqlite"] != "ok" || body.Checks["redis"] == "ok" {
		t.Fatalf("unexpected readiness %+v", body)
	}
}

func TestAuthFlow(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	s := newTestServer(t, middleware.AuthConfig{JWTSecret: "test-secret", AdminPasswordHash: string(hash)}, nil)

	if w := s.do(t, http.MethodGet, "/api/print-tasks/pending?merchantId=1", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/print-tasks/pending?merchantId=1", nil, "garbage"); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"password": "wrong"}, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: %d", w.Code)
	}

	w := s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"password": "s3cret"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body)
	}
	login := decode[middleware.LoginResponse](t, w)
	if !login.Success || login.Token == "" {
		t.Fatalf("unexpected login %+v", login)
	}

	if w := s.do(t, http.MethodGet, "/api/print-tasks/pending?merchantId=1", nil, login.Token); w.Code != http.StatusOK {
		t.Fatalf("with token: %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/healthz", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("healthz must stay open: %d", w.Code)
	}
}

func TestAuthWithoutSecretRejectsRequests(t *testing.T) {
	s := newTestServer(t, middleware.AuthConfig{}, nil)

	for _, path := range []string{"/api/print-tasks/pending?merchantId=1", "/api/settings/sync-cursor"} {
		if w := s.do(t, http.MethodGet, path, nil, ""); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s without secret: %d", path, w.Code)
		}
	}
	if w := s.do(t, http.MethodPost, "/api/print-tasks/missing/retry", nil, "anything"); w.Code != http.StatusUnauthorized {
		t.Fatalf("retry without secret: %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"password": "x"}, ""); w.Code != http.StatusForbidden {
		t.Fatalf("login without secret: %d", w.Code)
	}
}
