package web

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/caedis/mc-manager/internal/config"
	"github.com/caedis/mc-manager/internal/orchestrator"
	"github.com/caedis/mc-manager/internal/reconcile"
	"github.com/caedis/mc-manager/internal/serverctl"
	"github.com/caedis/mc-manager/internal/staging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
)

type fakeWorkflows struct {
	actions   []serverctl.Action
	actionErr error
	ctxErr    error
	status    *orchestrator.UpdateStatus
	statusErr error
	updateErr error
}

func (f *fakeWorkflows) SetServerState(ctx context.Context, action serverctl.Action) error {
	f.actions = append(f.actions, action)
	f.ctxErr = ctx.Err()
	return f.actionErr
}

func (f *fakeWorkflows) ReconcileMods(ctx context.Context) (*reconcile.Result, error) {
	return &reconcile.Result{Removed: []string{"A.jar"}, Added: []string{"D.jar"}}, nil
}

func (f *fakeWorkflows) Backup(ctx context.Context) (*config.BackupRecord, error) {
	return &config.BackupRecord{RunID: "run-1", Items: []string{"config"}, Mods: 2}, nil
}

func (f *fakeWorkflows) Restore(ctx context.Context) (*orchestrator.RestoreReport, error) {
	return &orchestrator.RestoreReport{RunID: "run-2", Version: "1.0.0"}, nil
}

func (f *fakeWorkflows) UpdatePack(ctx context.Context) (*orchestrator.UpdateReport, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &orchestrator.UpdateReport{RunID: "run-3", Previous: "1.0.0", Version: "1.2.0"}, nil
}

func (f *fakeWorkflows) CheckUpdate(ctx context.Context) (*orchestrator.UpdateStatus, error) {
	return f.status, f.statusErr
}

type fakeService struct {
	state string
	lines int
}

func (f *fakeService) Status(ctx context.Context) (string, error) { return f.state, nil }

func (f *fakeService) LogTail(ctx context.Context, lines int) (string, error) {
	f.lines = lines
	return "line one\nline two\n", nil
}

const stagingDir = "/srv/extra_mods"

func newTestServer(t *testing.T) (*Server, *fakeWorkflows, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll(stagingDir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	wf := &fakeWorkflows{}
	return &Server{
		Workflows: wf,
		Service:   &fakeService{state: "active"},
		Staging:   staging.New(fs, stagingDir),
		Unit:      "atm10.service",
		Gatherer:  prometheus.NewRegistry(),
	}, wf, fs
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIndexAndStylesheet(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<html") {
		t.Fatalf("index: status=%d body=%q", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/static/style.css", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/css") {
		t.Fatalf("stylesheet: status=%d type=%q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec := do(t, h, http.MethodGet, "/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status=%d want 404", rec.Code)
	}
}

func TestServerActions(t *testing.T) {
	srv, wf, _ := newTestServer(t)
	h := srv.Handler()

	for _, path := range []string{"/start", "/stop", "/restart"} {
		if rec := do(t, h, http.MethodPost, path, nil); rec.Code != http.StatusOK {
			t.Fatalf("POST %s status=%d body=%q", path, rec.Code, rec.Body.String())
		}
	}
	want := []serverctl.Action{serverctl.Start, serverctl.Stop, serverctl.Restart}
	if len(wf.actions) != len(want) {
		t.Fatalf("actions=%v want %v", wf.actions, want)
	}
	for i := range want {
		if wf.actions[i] != want[i] {
			t.Fatalf("actions[%d]=%v want %v", i, wf.actions[i], want[i])
		}
	}

	if rec := do(t, h, http.MethodGet, "/start", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /start status=%d want 405", rec.Code)
	}
}

func TestWorkflowContextOutlivesClient(t *testing.T) {
	srv, wf, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/stop", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if wf.ctxErr != nil {
		t.Fatalf("workflow saw cancelled context: %v", wf.ctxErr)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.Errorf(apperr.Validation, "parse", "bad"), http.StatusBadRequest},
		{"busy", &orchestrator.StepError{Workflow: "backup", Step: "acquire guard", Err: apperr.Errorf(apperr.Busy, "lock", "held")}, http.StatusConflict},
		{"lookup", apperr.Errorf(apperr.Lookup, "list files", "503"), http.StatusBadGateway},
		{"process", apperr.Errorf(apperr.ProcessControl, "stop", "exit 1"), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusFor(tc.err); got != tc.want {
				t.Fatalf("StatusFor=%d want %d", got, tc.want)
			}
		})
	}
}

func TestBusyWorkflowReturnsConflict(t *testing.T) {
	srv, wf, _ := newTestServer(t)
	wf.updateErr = &orchestrator.StepError{
		Workflow: orchestrator.WorkflowUpdatePack,
		Step:     "acquire guard",
		Err:      apperr.Errorf(apperr.Busy, "acquire", "another workflow is running"),
	}

	rec := do(t, srv.Handler(), http.MethodPost, "/update_pack", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d want 409", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if !strings.Contains(body["error"], "acquire guard") {
		t.Fatalf("error=%q", body["error"])
	}
}

func TestStatusAndLogTail(t *testing.T) {
	srv, _, _ := newTestServer(t)
	svc := srv.Service.(*fakeService)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/status", nil)
	var st map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if st["state"] != "active" || st["unit"] != "atm10.service" {
		t.Fatalf("status=%v", st)
	}

	rec = do(t, h, http.MethodGet, "/log_tail", nil)
	if rec.Body.String() != "line one\nline two\n" {
		t.Fatalf("log tail=%q", rec.Body.String())
	}
	if svc.lines != DefaultLogLines {
		t.Fatalf("lines=%d want %d", svc.lines, DefaultLogLines)
	}
}

func TestCheckUpdate(t *testing.T) {
	srv, wf, _ := newTestServer(t)
	wf.status = &orchestrator.UpdateStatus{Local: "1.0.0", Latest: "1.2.0", Newer: true}

	rec := do(t, srv.Handler(), http.MethodGet, "/check_server_update", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got["local_version"] != "1.0.0" || got["latest_version"] != "1.2.0" || got["up_to_date"] != false {
		t.Fatalf("body=%v", got)
	}

	wf.status, wf.statusErr = nil, apperr.Errorf(apperr.ConfigFieldMissing, "read version", "modpackVersion not set")
	rec = do(t, srv.Handler(), http.MethodGet, "/check_server_update", nil)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "modpackVersion") {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func uploadRequest(t *testing.T, field, name string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	part.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/extra_mods_upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestExtraModsLifecycle(t *testing.T) {
	srv, _, fs := newTestServer(t)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "mod", "D.jar", []byte("jar bytes")))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status=%d body=%q", rec.Code, rec.Body.String())
	}
	data, err := afero.ReadFile(fs, filepath.Join(stagingDir, "D.jar"))
	if err != nil || string(data) != "jar bytes" {
		t.Fatalf("stored=%q err=%v", data, err)
	}

	rec = do(t, h, http.MethodGet, "/extra_mods_list", nil)
	var names []string
	if err := json.Unmarshal(rec.Body.Bytes(), &names); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(names) != 1 || names[0] != "D.jar" {
		t.Fatalf("list=%v", names)
	}

	rec = do(t, h, http.MethodGet, "/mods.zip", nil)
	if rec.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("content type=%q", rec.Header().Get("Content-Type"))
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("reading zip: %v", err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "D.jar" {
		t.Fatalf("zip entries=%d", len(zr.File))
	}

	if rec := do(t, h, http.MethodDelete, "/extra_mods/D.jar", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete status=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/extra_mods/D.jar", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d want 404", rec.Code)
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		file    string
		content []byte
		limit   int64
		want    int
	}{
		{"wrong extension", "mod", "notes.txt", []byte("x"), 0, http.StatusBadRequest},
		{"missing filename", "mod", "", []byte("x"), 0, http.StatusBadRequest},
		{"missing field", "file", "D.jar", []byte("x"), 0, http.StatusBadRequest},
		{"too large", "mod", "big.jar", bytes.Repeat([]byte("a"), 4096), 1024, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, _, fs := newTestServer(t)
			srv.Staging.Limit = tc.limit

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, uploadRequest(t, tc.field, tc.file, tc.content))
			if rec.Code != tc.want {
				t.Fatalf("status=%d want %d body=%q", rec.Code, tc.want, rec.Body.String())
			}
			entries, _ := afero.ReadDir(fs, stagingDir)
			if len(entries) != 0 {
				t.Fatalf("staging dir should be empty, has %d entries", len(entries))
			}
		})
	}
}

func TestWorkflowEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		path string
		want string
	}{
		{"/update_extras", "Extra mods updated"},
		{"/backup_server", "Backup complete"},
		{"/restore_server", "Restore complete"},
		{"/update_pack", "Update complete"},
	}
	for _, tc := range tests {
		rec := do(t, h, http.MethodPost, tc.path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("POST %s status=%d body=%q", tc.path, rec.Code, rec.Body.String())
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("POST %s decoding: %v", tc.path, err)
		}
		if body["status"] != tc.want {
			t.Fatalf("POST %s status field=%v want %q", tc.path, body["status"], tc.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "mc_manager_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	srv.Gatherer = reg

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), "mc_manager_test_total 1") {
		t.Fatalf("metrics body=%q", rec.Body.String())
	}
}

func TestPanicIsRecovered(t *testing.T) {
	h := logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, http.MethodGet, "/", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", rec.Code)
	}
}
