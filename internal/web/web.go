// Package web serves the HTTP control panel.
package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/caedis/mc-manager/internal/config"
	"github.com/caedis/mc-manager/internal/logging"
	"github.com/caedis/mc-manager/internal/orchestrator"
	"github.com/caedis/mc-manager/internal/reconcile"
	"github.com/caedis/mc-manager/internal/serverctl"
	"github.com/caedis/mc-manager/internal/staging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

//go:embed static/index.html static/style.css
var staticFS embed.FS

// DefaultLogLines is how much of the journal /log_tail returns.
const DefaultLogLines = 1000

// uploadOverhead allows for multipart headers around a maximum size upload.
const uploadOverhead = 1 << 20

// Workflows is the set of orchestrated operations the panel exposes.
type Workflows interface {
	SetServerState(ctx context.Context, action serverctl.Action) error
	ReconcileMods(ctx context.Context) (*reconcile.Result, error)
	Backup(ctx context.Context) (*config.BackupRecord, error)
	Restore(ctx context.Context) (*orchestrator.RestoreReport, error)
	UpdatePack(ctx context.Context) (*orchestrator.UpdateReport, error)
	CheckUpdate(ctx context.Context) (*orchestrator.UpdateStatus, error)
}

// Service reports on the supervised unit.
type Service interface {
	Status(ctx context.Context) (string, error)
	LogTail(ctx context.Context, lines int) (string, error)
}

type Server struct {
	Workflows Workflows
	Service   Service
	Staging   *staging.Area
	Unit      string
	Gatherer  prometheus.Gatherer
	LogLines  int
}

// Handler returns the panel's routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleStatic("static/index.html", "text/html; charset=utf-8"))
	mux.HandleFunc("GET /static/style.css", s.handleStatic("static/style.css", "text/css; charset=utf-8"))

	mux.HandleFunc("POST /start", s.handleAction(serverctl.Start))
	mux.HandleFunc("POST /stop", s.handleAction(serverctl.Stop))
	mux.HandleFunc("POST /restart", s.handleAction(serverctl.Restart))
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /log_tail", s.handleLogTail)

	mux.HandleFunc("GET /mods.zip", s.handleModsZip)
	mux.HandleFunc("GET /extra_mods_list", s.handleExtraList)
	mux.HandleFunc("DELETE /extra_mods/{name}", s.handleExtraDelete)
	mux.HandleFunc("POST /extra_mods_upload", s.handleExtraUpload)
	mux.HandleFunc("POST /update_extras", s.handleUpdateExtras)

	mux.HandleFunc("GET /check_server_update", s.handleCheckUpdate)
	mux.HandleFunc("POST /backup_server", s.handleBackup)
	mux.HandleFunc("POST /restore_server", s.handleRestore)
	mux.HandleFunc("POST /update_pack", s.handleUpdatePack)

	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return logRequests(mux)
}

// NewHTTPServer returns an http.Server for addr with the panel's handler.
// Write timeouts are left open because workflows can run for minutes.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
}

// detach keeps a workflow running if the client goes away.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) handleStatic(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := staticFS.ReadFile(name)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(data)
	}
}

func (s *Server) handleAction(action serverctl.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Workflows.SetServerState(detach(r), action); err != nil {
			writeError(w, fmt.Errorf("failed to %s server: %w", action, err))
			return
		}
		writeText(w, http.StatusOK, fmt.Sprintf("Server %s requested.", action))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.Service.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"unit": s.Unit, "state": state})
}

func (s *Server) handleLogTail(w http.ResponseWriter, r *http.Request) {
	lines := s.LogLines
	if lines <= 0 {
		lines = DefaultLogLines
	}
	out, err := s.Service.LogTail(r.Context(), lines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, out)
}

func (s *Server) handleModsZip(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.Staging.WriteZip(&buf); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="mods.zip"`)
	_, _ = io.Copy(w, &buf)
}

func (s *Server) handleExtraList(w http.ResponseWriter, r *http.Request) {
	names, err := s.Staging.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleExtraDelete(w http.ResponseWriter, r *http.Request) {
	err := s.Staging.Delete(r.PathValue("name"))
	switch {
	case err == nil:
		writeText(w, http.StatusOK, "OK")
	case errors.Is(err, os.ErrNotExist):
		writeText(w, http.StatusNotFound, "FAIL")
	default:
		writeError(w, err)
	}
}

func (s *Server) handleExtraUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.Staging.Limit
	if limit <= 0 {
		limit = staging.MaxUploadSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+uploadOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		writeText(w, http.StatusBadRequest, "expected a multipart upload")
		return
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeUploadError(w, err)
			return
		}
		if part.FormName() != "mod" {
			part.Close()
			continue
		}

		_, err = s.Staging.Save(part.FileName(), part)
		part.Close()
		if err != nil {
			writeUploadError(w, err)
			return
		}
		writeText(w, http.StatusOK, "OK")
		return
	}
	writeText(w, http.StatusBadRequest, "missing form field \"mod\"")
}

func writeUploadError(w http.ResponseWriter, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) || errors.Is(err, staging.ErrTooLarge) {
		writeText(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
		return
	}
	writeError(w, err)
}

func (s *Server) handleUpdateExtras(w http.ResponseWriter, r *http.Request) {
	res, err := s.Workflows.ReconcileMods(detach(r))
	if err != nil {
		writeError(w, err)
		return
	}
	failed := make([]string, 0, len(res.Failed))
	for _, f := range res.Failed {
		failed = append(failed, f.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "Extra mods updated",
		"removed": nonNil(res.Removed),
		"added":   nonNil(res.Added),
		"failed":  failed,
	})
}

func (s *Server) handleCheckUpdate(w http.ResponseWriter, r *http.Request) {
	st, err := s.Workflows.CheckUpdate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Workflows.Backup(detach(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "Backup complete",
		"run_id": rec.RunID,
		"items":  nonNil(rec.Items),
		"mods":   rec.Mods,
	})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Workflows.Restore(detach(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "Restore complete",
		"run_id":  rep.RunID,
		"items":   nonNil(rep.Items),
		"version": rep.Version,
	})
}

func (s *Server) handleUpdatePack(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Workflows.UpdatePack(detach(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "Update complete",
		"run_id":   rep.RunID,
		"previous": rep.Previous,
		"version":  rep.Version,
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// StatusFor maps an error to the HTTP status reported to clients.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.Busy:
		return http.StatusConflict
	case apperr.Lookup:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.L().WithError(err).Warn("encoding response")
	}
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, s)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			entry := logging.L().WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"remote":   r.RemoteAddr,
				"status":   rec.status,
				"duration": time.Since(start).Round(time.Millisecond).String(),
			})
			if p := recover(); p != nil {
				entry.WithField("panic", p).Error("panic serving request")
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
			entry.Info("request")
		}()
		next.ServeHTTP(rec, r)
	})
}
