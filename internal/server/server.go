// Package server exposes the JSON control API and the WebSocket progress
// stream.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mkellner/leakwatch/internal/config"
	"github.com/mkellner/leakwatch/internal/database"
	"github.com/mkellner/leakwatch/internal/report"
	"github.com/mkellner/leakwatch/internal/scanner"
)

type Server struct {
	cfg       *config.Config
	db        *database.DB
	hub       *Hub
	pipeline  *scanner.Pipeline
	reportGen *report.Generator
	mux       *http.ServeMux
}

func New(cfg *config.Config, db *database.DB, pipeline *scanner.Pipeline) *Server {
	s := &Server{
		cfg:       cfg,
		db:        db,
		hub:       NewHub(),
		pipeline:  pipeline,
		reportGen: report.NewGenerator(db, cfg.Reports.Directory, cfg.Reports.FontPath),
		mux:       http.NewServeMux(),
	}

	// Everything the tracker emits goes out to connected clients.
	pipeline.Progress().SetListener(s.hub.Broadcast)

	s.registerRoutes()
	return s
}

func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	slog.Info("starting server", "addr", addr)

	handler := recoveryMiddleware(securityHeaders(loggingMiddleware(s.mux)))
	return http.ListenAndServe(addr, handler)
}

func (s *Server) registerRoutes() {
	// Scan control
	s.mux.HandleFunc("/api/scan/trigger", s.handleScanTrigger)
	s.mux.HandleFunc("/api/scan/cancel", s.handleScanCancel)
	s.mux.HandleFunc("/api/scan/status", s.handleScanStatus)
	s.mux.HandleFunc("/api/scan/progress", s.handleScanProgress)

	// Recovery operations
	s.mux.HandleFunc("/api/scan/resume/", s.handleScanResume)
	s.mux.HandleFunc("/api/findings/rescan-all", s.handleRescanAll)
	s.mux.HandleFunc("/api/findings/reassess", s.handleReassess)

	// Resources
	s.mux.HandleFunc("/api/keywords", s.handleKeywords)
	s.mux.HandleFunc("/api/keywords/", s.handleKeyword)
	s.mux.HandleFunc("/api/repos", s.handleRepos)
	s.mux.HandleFunc("/api/repos/", s.handleRepo)
	s.mux.HandleFunc("/api/findings", s.handleFindings)
	s.mux.HandleFunc("/api/findings/", s.handleFinding)
	s.mux.HandleFunc("/api/scans", s.handleScans)
	s.mux.HandleFunc("/api/modules", s.handleModules)
	s.mux.HandleFunc("/api/modules/", s.handleModule)
	s.mux.HandleFunc("/api/settings/finding-prompt", s.handleFindingPrompt)

	// Reporting and diagnostics
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/reports/", s.handleReport)
	s.mux.HandleFunc("/api/tools/status", s.handleToolStatus)

	// WebSocket
	s.mux.HandleFunc("/ws", s.handleWebSocket)
}
