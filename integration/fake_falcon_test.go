package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Mercury0/talon/internal/domain"
)

// fakeFalcon is an in-process vendor API: token exchange, paginated ID
// query and bulk entity fetch, with a programmable alert set and
// injectable rate limits. Entity responses come back in reverse input
// order on purpose, so the poller's re-sort is actually exercised.
type fakeFalcon struct {
	srv *httptest.Server

	mu           sync.Mutex
	alerts       []domain.Alert
	tokenHits    int
	queryHits    int
	fetchHits    int
	throttleLeft int
	retryAfter   string
}

func newFakeFalcon() *fakeFalcon {
	f := &fakeFalcon{retryAfter: "1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", f.handleToken)
	mux.HandleFunc("/alerts/queries/alerts/v1", f.handleQuery)
	mux.HandleFunc("/alerts/entities/alerts/v1", f.handleEntities)
	f.srv = httptest.NewServer(mux)
	return f
}

func (f *fakeFalcon) URL() string { return f.srv.URL }
func (f *fakeFalcon) Close()      { f.srv.Close() }

// add registers one alert with the given creation timestamp.
func (f *fakeFalcon) add(fullID, created string, severity int, product string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, domain.Alert{
		"id":                fullID,
		"name":              "Integration detection " + fullID,
		"description":       "synthetic integration alert",
		"severity":          float64(severity),
		"status":            "new",
		"product":           product,
		"device":            map[string]any{"hostname": "it-host"},
		"created_timestamp": created,
	})
}

// throttleNext makes the next n query requests answer 429.
func (f *fakeFalcon) throttleNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.throttleLeft = n
}

func (f *fakeFalcon) counts() (token, query, fetch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenHits, f.queryHits, f.fetchHits
}

func (f *fakeFalcon) handleToken(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.tokenHits++
	f.mu.Unlock()

	if err := r.ParseForm(); err != nil ||
		r.PostFormValue("client_id") == "" || r.PostFormValue("client_secret") == "" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	writeJSON(w, map[string]any{"access_token": "it-token", "expires_in": 1800})
}

func (f *fakeFalcon) handleQuery(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.queryHits++
	if f.throttleLeft > 0 {
		f.throttleLeft--
		f.mu.Unlock()
		w.Header().Set("Retry-After", f.retryAfter)
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	since := parseSince(r.URL.Query().Get("filter"))
	var matched []domain.Alert
	for _, rec := range f.alerts {
		if rec.BestCreated() > since {
			matched = append(matched, rec)
		}
	}
	f.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].BestCreated() < matched[j].BestCreated()
	})

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	ids := make([]string, 0, limit)
	for i := offset; i < len(matched) && i < offset+limit; i++ {
		ids = append(ids, matched[i].ID())
	}

	writeJSON(w, map[string]any{
		"resources": ids,
		"meta": map[string]any{
			"pagination": map[string]int{
				"offset": offset,
				"limit":  limit,
				"total":  len(matched),
			},
		},
	})
}

func (f *fakeFalcon) handleEntities(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.fetchHits++
	f.mu.Unlock()

	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	byID := make(map[string]domain.Alert, len(f.alerts))
	for _, rec := range f.alerts {
		byID[rec.ID()] = rec
	}
	f.mu.Unlock()

	// Reverse order relative to the request.
	var records []domain.Alert
	for i := len(body.IDs) - 1; i >= 0; i-- {
		if rec, ok := byID[body.IDs[i]]; ok {
			records = append(records, rec)
		}
	}
	writeJSON(w, map[string]any{"resources": records})
}

func parseSince(filter string) string {
	start := strings.Index(filter, ">'")
	if start < 0 {
		return ""
	}
	rest := filter[start+2:]
	if end := strings.Index(rest, "'"); end >= 0 {
		return rest[:end]
	}
	return rest
}

func queryInt(r *http.Request, name string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// captureSink records everything the poller delivers.
type captureSink struct {
	mu  sync.Mutex
	ids []string
}

func (c *captureSink) Emit(_ context.Context, _ domain.Alert, displayID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, displayID)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) displayIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}
