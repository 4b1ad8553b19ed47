package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"marketfeed/internal/collab"
	"marketfeed/internal/fetch"
	"marketfeed/internal/metrics"
	"marketfeed/internal/provider"
)

// core is the part of fetch.Service the API serves.
type core interface {
	FetchCrypto(ctx context.Context, id string) (provider.Record, error)
	FetchEquity(ctx context.Context, ticker string) (provider.Record, error)
	Resolve(ctx context.Context, query string) (provider.ResolvedQuery, error)
	FetchBatch(ctx context.Context, ids []string, class provider.AssetClass) map[string]fetch.Result
	Verify(ctx context.Context, symbol string, class provider.AssetClass) (provider.Verification, error)
}

type reporter interface {
	Build(ctx context.Context, query string) (collab.Report, error)
}

type api struct {
	svc      core
	reports  reporter
	timeout  time.Duration
	maxBatch int
}

func newRouter(a *api, log logrus.FieldLogger) http.Handler {
	if a.maxBatch <= 0 {
		a.maxBatch = 100
	}
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	sub := r.NewRoute().Subrouter()
	sub.Use(withRequestID(log), withJSON, withGzip, recoverPanic, limitBody)
	sub.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	sub.HandleFunc("/api/crypto/{id}", a.handleCrypto).Methods(http.MethodGet)
	sub.HandleFunc("/api/equity/{ticker}", a.handleEquity).Methods(http.MethodGet)
	sub.HandleFunc("/api/resolve", a.handleResolve).Methods(http.MethodGet)
	sub.HandleFunc("/api/verify/{symbol}", a.handleVerify).Methods(http.MethodGet)
	sub.HandleFunc("/api/batch", a.handleBatch).Methods(http.MethodGet, http.MethodPost)
	sub.HandleFunc("/api/report/{query}", a.handleReport).Methods(http.MethodGet)

	return metrics.InstrumentHandler(withCORS(r))
}

func (a *api) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), a.timeout)
}

func (a *api) handleCrypto(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	rec, err := a.svc.FetchCrypto(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) handleEquity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	rec, err := a.svc.FetchEquity(ctx, mux.Vars(r)["ticker"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeMessage(w, http.StatusBadRequest, "missing q query param")
		return
	}
	ctx, cancel := a.ctx(r)
	defer cancel()
	rq, err := a.svc.Resolve(ctx, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rq)
}

func (a *api) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	v, err := a.svc.Verify(ctx, mux.Vars(r)["symbol"], provider.ParseAssetClass(r.URL.Query().Get("class")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type batchBody struct {
	IDs   []string `json:"ids"`
	Class string   `json:"class"`
}

type batchItem struct {
	Record   *provider.Record        `json:"record,omitempty"`
	Resolved *provider.ResolvedQuery `json:"resolved,omitempty"`
	Error    *errorBody              `json:"error,omitempty"`
}

func (a *api) handleBatch(w http.ResponseWriter, r *http.Request) {
	var b batchBody
	if r.Method == http.MethodPost {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&b); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		b.IDs = splitCSV(r.URL.Query().Get("ids"))
		b.Class = r.URL.Query().Get("class")
	}
	if len(b.IDs) == 0 {
		writeMessage(w, http.StatusBadRequest, "ids cannot be empty")
		return
	}
	if len(b.IDs) > a.maxBatch {
		writeMessage(w, http.StatusBadRequest, "too many ids")
		return
	}

	ctx, cancel := a.ctx(r)
	defer cancel()
	results := a.svc.FetchBatch(ctx, b.IDs, provider.ParseAssetClass(b.Class))
	out := make(map[string]batchItem, len(results))
	for id, res := range results {
		item := batchItem{Record: res.Record, Resolved: res.Resolved}
		if res.Err != nil {
			_, body := classify(res.Err)
			item.Error = &body
		}
		out[id] = item
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (a *api) handleReport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.ctx(r)
	defer cancel()
	rep, err := a.reports.Build(ctx, mux.Vars(r)["query"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type errorBody struct {
	Error       string             `json:"error"`
	Kind        string             `json:"kind"`
	Suggestions []string           `json:"suggestions,omitempty"`
	Attempts    []provider.Attempt `json:"attempts,omitempty"`
}

// classify maps a core error to a status and body.
func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}
	var tm *provider.TypeMismatchError
	var ue *provider.UnresolvedError
	switch {
	case errors.As(err, &tm):
		body.Kind = "type_mismatch"
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &ue):
		body.Kind = "unresolved"
		body.Suggestions = ue.Suggestions
		body.Attempts = ue.Attempts
		return http.StatusNotFound, body
	case errors.Is(err, context.DeadlineExceeded):
		body.Kind = "timeout"
		return http.StatusGatewayTimeout, body
	default:
		body.Kind = string(provider.KindOf(err))
		return http.StatusBadGateway, body
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		entry(r).WithError(err).Warn("request failed")
	}
	writeJSON(w, status, body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: "bad_request"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
