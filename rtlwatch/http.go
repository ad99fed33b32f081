package rtlwatch

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/rtlfix/kit"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
	"github.com/hazyhaar/rtlfix/shield"
)

// RegisterHTTP mounts the message, preference, annotation and stats API on
// r. When srv is non-nil it is served over streamable HTTP at /mcp.
func (w *Watcher) RegisterHTTP(r chi.Router, srv *mcp.Server) {
	r.Get("/health", func(rw http.ResponseWriter, _ *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", w.handleMessage)
		r.Get("/preferences", w.handleGetPreferences)
		r.Put("/preferences", w.handlePutPreferences)
		r.Post("/annotate", w.handleAnnotate)
		r.Post("/detect", w.handleDetect)
		r.Get("/stats", w.handleStats)
		r.Post("/pages", w.handleObserve)
		r.Get("/pages/{id}/batches", w.handleHistory)
	})

	if srv != nil {
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
		r.Handle("/mcp", h)
		r.Handle("/mcp/*", h)
	}
}

func (w *Watcher) handleMessage(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(rw, bodyStatus(err), err)
		return
	}
	u, err := rtl.ParseMessage(body)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	prefs, err := w.UpdateSettings(r.Context(), u)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, prefs)
}

func (w *Watcher) handleGetPreferences(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, w.Preferences())
}

func (w *Watcher) handlePutPreferences(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(rw, bodyStatus(err), err)
		return
	}
	u, err := rtl.ParseUpdate(body)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	prefs, err := w.UpdateSettings(r.Context(), u)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, prefs)
}

// handleAnnotate takes an HTML document as the raw body and answers with
// the annotated document. The number of marked elements is in
// X-Rtlwatch-Marks.
func (w *Watcher) handleAnnotate(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(rw, bodyStatus(err), err)
		return
	}
	if len(body) == 0 {
		writeError(rw, http.StatusBadRequest, errors.New("empty body"))
		return
	}
	out, marks, err := w.AnnotateHTML(body)
	if err != nil {
		shield.GetLogger(r.Context()).Error("rtlwatch: annotate", "error", err)
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.Header().Set("X-Rtlwatch-Marks", strconv.Itoa(len(marks)))
	rw.WriteHeader(http.StatusOK)
	rw.Write(out)
}

func (w *Watcher) handleDetect(rw http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, bodyStatus(err), err)
		return
	}
	w.serve(rw, r, w.detectEndpoint(), &req)
}

func (w *Watcher) handleStats(rw http.ResponseWriter, r *http.Request) {
	w.serve(rw, r, w.statsEndpoint(), nil)
}

func (w *Watcher) handleObserve(rw http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, bodyStatus(err), err)
		return
	}
	if err := w.validatePage(&req); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	resp, err := w.observeEndpoint()(kit.WithTransport(r.Context(), "http"), &req)
	if err != nil {
		shield.GetLogger(r.Context()).Warn("rtlwatch: observe page", "url", req.URL, "error", err)
		writeError(rw, http.StatusBadGateway, err)
		return
	}
	writeJSON(rw, http.StatusAccepted, resp)
}

func (w *Watcher) handleHistory(rw http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	batches, err := w.History(r.Context(), chi.URLParam(r, "id"), limit)
	if errors.Is(err, ErrNoHistory) {
		writeError(rw, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	if batches == nil {
		batches = []rtl.Batch{}
	}
	writeJSON(rw, http.StatusOK, batches)
}

func (w *Watcher) serve(rw http.ResponseWriter, r *http.Request, ep kit.Endpoint, req any) {
	resp, err := ep(kit.WithTransport(r.Context(), "http"), req)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, resp)
}

func bodyStatus(err error) int {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
