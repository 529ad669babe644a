package lazyreveal

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/lazyreveal/reveal"
)

// Handler returns the admin HTTP API.
func (r *Runner) Handler() http.Handler {
	mux := chi.NewRouter()
	r.RegisterHTTP(mux)
	return mux
}

// RegisterHTTP mounts the admin routes on mux.
func (r *Runner) RegisterHTTP(mux chi.Router) {
	mux.Get("/health", r.handleHealth)
	mux.Get("/pages", r.handlePages)
	mux.Get("/pages/{id}/batches", r.handleBatches)
	mux.Post("/pages/{id}/jobs", r.handleApply)
	mux.Delete("/pages/{id}/batches", r.handleDestroy)
	if r.reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	}
}

func (r *Runner) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pages": len(r.Pages())})
}

func (r *Runner) handlePages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.Pages())
}

func (r *Runner) handleBatches(w http.ResponseWriter, req *http.Request) {
	p, err := r.Page(chi.URLParam(req, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Batches())
}

// handleApply starts a job on the page. With ?persist=true the job is also
// stored in reveal_jobs and applied again after a restart.
// POST /pages/{id}/jobs
func (r *Runner) handleApply(w http.ResponseWriter, req *http.Request) {
	pageID := chi.URLParam(req, "id")
	var job JobConfig
	if err := json.NewDecoder(req.Body).Decode(&job); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	b, err := r.ApplyJob(req.Context(), pageID, job)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.URL.Query().Get("persist") == "true" {
		if err := r.SaveJob(req.Context(), pageID, job); err != nil {
			r.logger.Error("lazyreveal: persist job failed", "page", pageID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusCreated, b.Info())
}

func (r *Runner) handleDestroy(w http.ResponseWriter, req *http.Request) {
	err := r.Destroy(chi.URLParam(req, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps runner and reveal errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ce *reveal.ConfigError
	var se *reveal.SelectorError
	var te *reveal.TypeError
	switch {
	case errors.Is(err, ErrUnknownPage):
		status = http.StatusNotFound
	case errors.Is(err, reveal.ErrNoObserver):
		status = http.StatusConflict
	case errors.As(err, &ce), errors.As(err, &te):
		status = http.StatusBadRequest
	case errors.As(err, &se):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
