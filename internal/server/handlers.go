package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/mkellner/leakwatch/internal/database"
	"github.com/mkellner/leakwatch/internal/scanner"
	"github.com/mkellner/leakwatch/internal/tools"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// startGuardedOp maps guard contention to 409 and anything else to 500.
func startGuardedOp(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scanner.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "a scan is already running")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

// --- Scan control ---

func (s *Server) handleScanTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.pipeline.CleanupStaleScans(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	startGuardedOp(w, s.pipeline.Start("manual"))
}

func (s *Server) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.pipeline.Guard().Running() {
		writeError(w, http.StatusConflict, "no scan is running")
		return
	}
	s.pipeline.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancel requested"})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	latest, err := s.db.LatestScan()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":     s.pipeline.Guard().Running(),
		"latest_scan": latest,
	})
}

func (s *Server) handleScanProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Progress().Snapshot())
}

// handleScanResume handles POST /api/scan/resume/{id}.
func (s *Server) handleScanResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/scan/resume/"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scan id")
		return
	}
	startGuardedOp(w, s.pipeline.StartResume(id))
}

func (s *Server) handleRescanAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	startGuardedOp(w, s.pipeline.StartRescanAllFindings())
}

func (s *Server) handleReassess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	startGuardedOp(w, s.pipeline.StartReassessFindings())
}

// --- Keywords ---

func (s *Server) handleKeywords(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		keywords, err := s.db.ListKeywords()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if keywords == nil {
			keywords = []database.Keyword{}
		}
		writeJSON(w, http.StatusOK, keywords)

	case http.MethodPost:
		var req struct {
			Term     string `json:"term"`
			Category string `json:"category"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		req.Term = strings.TrimSpace(req.Term)
		if req.Term == "" {
			writeError(w, http.StatusBadRequest, "term is required")
			return
		}
		if req.Category == "" {
			req.Category = "general"
		}
		if existing, _ := s.db.KeywordByTerm(req.Term); existing != nil {
			writeError(w, http.StatusConflict, "keyword already exists")
			return
		}
		kw, err := s.db.CreateKeyword(req.Term, req.Category)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, kw)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleKeyword handles /api/keywords/{id}.
func (s *Server) handleKeyword(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/keywords/"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid keyword id")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req struct {
			Term     string `json:"term"`
			Category string `json:"category"`
			Active   bool   `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if err := s.db.UpdateKeyword(id, req.Term, req.Category, req.Active); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		kw, err := s.db.GetKeyword(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, kw)

	case http.MethodDelete:
		if err := s.db.DeleteKeyword(id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Repositories ---

func (s *Server) handleRepos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	repos, err := s.db.ListRepos()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if repos == nil {
		repos = []database.DiscoveredRepo{}
	}
	writeJSON(w, http.StatusOK, repos)
}

// handleRepo handles /api/repos/{id}/dismiss and /api/repos/{id}/override.
func (s *Server) handleRepo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/repos/"), "/")
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid repo id")
		return
	}

	switch parts[1] {
	case "dismiss":
		var req struct {
			Dismissed bool `json:"dismissed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if err := s.db.SetRepoDismissed(id, req.Dismissed); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	case "override":
		var req struct {
			Override string `json:"override"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if err := s.db.SetRepoOverride(id, req.Override); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	repo, err := s.db.GetRepo(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// --- Findings ---

func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	includeResolved := r.URL.Query().Get("resolved") == "true"
	findings, err := s.db.ListFindings(includeResolved)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if findings == nil {
		findings = []database.Finding{}
	}
	writeJSON(w, http.StatusOK, findings)
}

// handleFinding handles /api/findings/{id}/{action}: rescan, resolve,
// reopen, notes.
func (s *Server) handleFinding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/findings/"), "/")
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid finding id")
		return
	}

	switch parts[1] {
	case "rescan":
		startGuardedOp(w, s.pipeline.StartRescanFinding(id))
		return
	case "resolve":
		var req struct {
			Note string `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if err := s.db.ResolveFinding(id, req.Note); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	case "reopen":
		if err := s.db.ReopenFinding(id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	case "notes":
		var req struct {
			Notes string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if err := s.db.SetFindingNotes(id, req.Notes); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	finding, err := s.db.GetFinding(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, finding)
}

// --- Scans, modules, settings ---

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	scans, err := s.db.ListScans(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if scans == nil {
		scans = []database.Scan{}
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	modules, err := s.db.ListModules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if modules == nil {
		modules = []database.ModuleSetting{}
	}
	writeJSON(w, http.StatusOK, modules)
}

// handleModule handles PUT /api/modules/{key}.
func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/api/modules/")
	var req struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg := "{}"
	if len(req.Config) > 0 {
		cfg = string(req.Config)
	}
	if err := s.db.UpdateModuleSetting(key, req.Enabled, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleFindingPrompt(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		prompt, err := s.db.GetAppSetting("finding_prompt")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"prompt": prompt})

	case http.MethodPut:
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if err := s.db.SetAppSetting("finding_prompt", req.Prompt); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// --- Stats, reports, diagnostics ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleReport handles GET /api/reports/{scanID}?format=markdown|pdf and
// writes the report, returning its path.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/reports/"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scan id")
		return
	}

	var path string
	switch r.URL.Query().Get("format") {
	case "pdf":
		path, err = s.reportGen.PDF(id)
	default:
		path, err = s.reportGen.Markdown(id)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) handleToolStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tools.DetectAll())
}
