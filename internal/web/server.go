// Package web provides a read-only web UI over the swarm run history.
package web

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/metalagman/swarm/internal/db"
	"github.com/metalagman/swarm/internal/model"
	"github.com/metalagman/swarm/internal/scoring"
)

// Server provides the web UI handlers and state.
type Server struct {
	store *db.Store
	tmpl  *template.Template
}

//go:embed templates/*.html
var templatesFS embed.FS

// NewServer creates a new web server.
func NewServer(store *db.Store) (*Server, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"score": func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Server{store: store, tmpl: tmpl}, nil
}

// Routes returns the router for the web UI.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRunJSON)
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "index.html", runs)
}

type runPage struct {
	Run    db.RunRecord
	Ranked []model.RankedResult
	Events []db.Event
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	results, err := s.store.AgentResults(r.Context(), rec.RunID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	events, err := s.store.Events(r.Context(), rec.RunID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "run.html", runPage{Run: rec, Ranked: scoring.Rank(results, rec.Strategy.Weights), Events: events})
}

func (s *Server) handleRunJSON(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	outcome := rec.Outcome
	if outcome == nil {
		results, err := s.store.AgentResults(r.Context(), rec.RunID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		outcome = &model.OrchestrationOutcome{RunID: rec.RunID, Strategy: rec.Strategy.Kind, AgentResults: results}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(outcome)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (db.RunRecord, bool) {
	rec, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrRunNotFound) {
		http.NotFound(w, r)
		return db.RunRecord{}, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return db.RunRecord{}, false
	}
	return rec, true
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
