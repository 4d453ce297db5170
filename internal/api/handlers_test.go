// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/snapkeep/snapkeep/internal/backup"
	"github.com/snapkeep/snapkeep/internal/config"
	"github.com/snapkeep/snapkeep/internal/history"
	"github.com/snapkeep/snapkeep/internal/retention"
	"github.com/snapkeep/snapkeep/internal/scheduler"
)

type stubExecutor struct {
	runs int
}

func (s *stubExecutor) Run(_ context.Context, kind backup.Kind, startedAt time.Time) (*backup.Artifact, error) {
	s.runs++
	return &backup.Artifact{
		ID:        uuid.NewString(),
		Path:      "/backups/stub.tar.gz",
		Database:  "appdb",
		Kind:      kind,
		CreatedAt: startedAt,
		SizeBytes: 64,
	}, nil
}

type testEnv struct {
	router http.Handler
	store  *backup.Store
	hist   *history.Store
	exec   *stubExecutor
	clock  *scheduler.FixedClock
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()

	store, err := backup.OpenStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	hist, err := history.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })

	clock := &scheduler.FixedClock{T: time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)}
	exec := &stubExecutor{}
	sched := scheduler.New(config.ScheduleConfig{
		Enabled:       true,
		PreferredHour: 2,
		AnnualMonth:   1,
		AnnualDay:     1,
	}, scheduler.Deps{
		Targets: []scheduler.Target{{Database: "appdb", Executor: exec}},
		History: hist,
		Clock:   clock,
	})

	cfg := config.ServerConfig{
		Enabled:       true,
		Host:          "127.0.0.1",
		Port:          7627,
		RateLimitReqs: 100,
		APIToken:      token,
	}
	router := NewRouter(cfg, Deps{
		Store:     store,
		History:   hist,
		Scheduler: sched,
		Retention: retention.New(store, retention.Policy{DailyWindowDays: 30}),
		Databases: []Database{{Name: "appdb"}},
		Clock:     clock,
	})

	return &testEnv{router: router, store: store, hist: hist, exec: exec, clock: clock}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, "")

	if w := env.do(t, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/readyz", "", ""); w.Code != http.StatusOK {
		t.Errorf("/readyz = %d, want 200", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t, "sekrit")

	if w := env.do(t, http.MethodGet, "/api/v1/backups", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/backups", "wrong", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/backups", "sekrit", ""); w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}

	// Probes stay open.
	if w := env.do(t, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Errorf("/healthz with auth enabled = %d, want 200", w.Code)
	}
}

func TestListAndGetBackups(t *testing.T) {
	env := newTestEnv(t, "")

	a := backup.Artifact{
		ID:        uuid.NewString(),
		Database:  "appdb",
		Kind:      backup.KindDaily,
		CreatedAt: env.clock.Now(),
	}
	a.Path = filepath.Join(env.store.DirFor(a.Kind), "a.tar.gz")
	os.WriteFile(a.Path, []byte("x"), 0o640)
	if err := env.store.Add(a); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/backups", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d, want 200", w.Code)
	}
	var list []backup.Artifact
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(list) != 1 || list[0].ID != a.ID {
		t.Errorf("list = %+v", list)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/backups/"+a.ID, "", ""); w.Code != http.StatusOK {
		t.Errorf("get = %d, want 200", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/backups/nope", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("get unknown = %d, want 404", w.Code)
	}
}

func TestTriggerBackup(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/api/v1/backups/trigger", "", `{"kind":"daily"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("trigger = %d, body %s", w.Code, w.Body.String())
	}
	var resp triggerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.JobID == "" || resp.Status != string(history.StatusCompleted) {
		t.Errorf("trigger response = %+v", resp)
	}
	if env.exec.runs != 1 {
		t.Errorf("executor runs = %d, want 1", env.exec.runs)
	}
}

func TestTriggerInvalidKind(t *testing.T) {
	env := newTestEnv(t, "")

	if w := env.do(t, http.MethodPost, "/api/v1/backups/trigger", "", `{"kind":"hourly"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid kind = %d, want 400", w.Code)
	}
	if env.exec.runs != 0 {
		t.Errorf("executor ran on invalid kind")
	}
}

func TestTriggerRateLimited(t *testing.T) {
	env := newTestEnv(t, "")

	// The limiter allows a burst of two.
	for i := 0; i < 2; i++ {
		if w := env.do(t, http.MethodPost, "/api/v1/backups/trigger", "", `{"kind":"daily"}`); w.Code != http.StatusOK {
			t.Fatalf("trigger %d = %d, want 200", i, w.Code)
		}
	}
	if w := env.do(t, http.MethodPost, "/api/v1/backups/trigger", "", `{"kind":"daily"}`); w.Code != http.StatusTooManyRequests {
		t.Errorf("third trigger = %d, want 429", w.Code)
	}
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t, "")

	if w := env.do(t, http.MethodPost, "/api/v1/backups/trigger", "", `{"kind":"daily"}`); w.Code != http.StatusOK {
		t.Fatal("trigger failed")
	}

	w := env.do(t, http.MethodGet, "/api/v1/jobs", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("jobs = %d, want 200", w.Code)
	}
	var jobs []history.Job
	if err := json.Unmarshal(w.Body.Bytes(), &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Trigger != history.TriggerManual {
		t.Errorf("jobs = %+v", jobs)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/jobs?limit=0", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0 = %d, want 400", w.Code)
	}
}

func TestRetentionPreviewEmpty(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodGet, "/api/v1/retention/preview", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("preview = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("empty preview body = %q, want []", got)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodGet, "/api/v1/status", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Databases) != 1 || resp.Databases[0].Name != "appdb" {
		t.Errorf("databases = %+v, want appdb", resp.Databases)
	}
	// Clock is 12:00, so the next daily is tomorrow 02:00.
	wantDaily := time.Date(2026, 6, 11, 2, 0, 0, 0, time.UTC)
	if !resp.NextDaily.Equal(wantDaily) {
		t.Errorf("next_daily = %v, want %v", resp.NextDaily, wantDaily)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "sekrit")

	w := env.do(t, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("/metrics = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("/metrics missing runtime metrics")
	}
}

func TestTriggerUnknownDatabase(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodPost, "/api/v1/backups/trigger", "", `{"kind":"daily","database":"nope"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown database = %d, want 404", w.Code)
	}
	if env.exec.runs != 0 {
		t.Error("executor ran for an unknown database")
	}
}

func TestListBackupsFiltersByDatabase(t *testing.T) {
	env := newTestEnv(t, "")

	for _, db := range []string{"appdb", "analytics"} {
		a := backup.Artifact{
			ID:        uuid.NewString(),
			Database:  db,
			Kind:      backup.KindDaily,
			CreatedAt: env.clock.Now(),
		}
		a.Path = filepath.Join(env.store.DirFor(a.Kind), db+".tar.gz")
		os.WriteFile(a.Path, []byte("x"), 0o640)
		if err := env.store.Add(a); err != nil {
			t.Fatal(err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/backups?database=analytics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("filtered list = %d, want 200", w.Code)
	}
	var list []backup.Artifact
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Database != "analytics" {
		t.Errorf("filtered list = %+v, want only analytics", list)
	}
}
