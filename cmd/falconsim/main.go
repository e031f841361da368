// Package main runs falconsim, a fake vendor alert API for local
// development. It serves the token, query and entities endpoints with
// the real wire format, generates a synthetic alert stream, and can
// inject rate-limit responses, so a talon binary can be exercised
// end to end without vendor credentials.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Mercury0/talon/internal/domain"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7443", "listen address")
	interval := flag.Duration("interval", 5*time.Second, "time between generated alerts")
	seed := flag.Int("seed", 3, "alerts present at startup")
	limitEvery := flag.Int("limit-every", 0, "answer every Nth query with 429 (0 disables)")
	retryAfter := flag.Int("retry-after", 2, "Retry-After seconds on injected 429s")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sim := newSimulator(*limitEvery, *retryAfter, logger)
	for i := 0; i < *seed; i++ {
		sim.generate()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go sim.generateLoop(ctx, *interval)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/token", sim.handleToken)
	mux.HandleFunc("GET /alerts/queries/alerts/v1", sim.handleQuery)
	mux.HandleFunc("POST /alerts/entities/alerts/v1", sim.handleEntities)

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("falconsim listening", "addr", *addr, "interval", interval.String())
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// simulator holds the synthetic alert stream and the 429 injection
// counters. One mutex guards everything; the traffic is a dev tool's.
type simulator struct {
	mu         sync.Mutex
	alerts     []domain.Alert
	queries    int
	limitEvery int
	retryAfter int
	logger     *slog.Logger
}

func newSimulator(limitEvery, retryAfter int, logger *slog.Logger) *simulator {
	return &simulator{
		limitEvery: limitEvery,
		retryAfter: retryAfter,
		logger:     logger,
	}
}

var (
	simProducts = []string{"epp", "idp", "xdr", "overwatch"}
	simHosts    = []string{"web01", "db02", "build07", "jump01"}
	simNames    = []string{
		"Suspicious PowerShell execution",
		"Credential dumping attempt",
		"Unusual outbound connection",
		"Malicious document opened",
		"Privilege escalation detected",
	}
	simSeverities = []int{20, 35, 50, 70, 90}
)

// generateLoop appends one synthetic alert per interval until ctx ends.
func (s *simulator) generateLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.generate()
		}
	}
}

func (s *simulator) generate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.alerts)
	fullID := fmt.Sprintf("simcid:ind:%08x%08x", n, rand.Uint32())
	rec := domain.Alert{
		"id":                fullID,
		"name":              simNames[n%len(simNames)],
		"description":       "synthetic alert generated by falconsim",
		"severity":          float64(simSeverities[n%len(simSeverities)]),
		"status":            "new",
		"product":           simProducts[n%len(simProducts)],
		"device": map[string]any{
			"hostname": simHosts[n%len(simHosts)],
		},
		"created_timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	s.alerts = append(s.alerts, rec)
	s.logger.Info("alert generated", "id", fullID, "total", len(s.alerts))
}

// handleToken implements the client-credentials exchange. Any non-empty
// credential pair is accepted.
func (s *simulator) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if r.PostFormValue("client_id") == "" || r.PostFormValue("client_secret") == "" {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"errors": []map[string]string{{"message": "invalid client credentials"}},
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"access_token": uuid.NewString(),
		"expires_in":   1800,
	})
}

// handleQuery implements the paginated ID query, honoring the
// created_timestamp filter, ascending sort and offset/limit paging.
func (s *simulator) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.maybeRateLimit(w) {
		return
	}

	since := parseSince(r.URL.Query().Get("filter"))
	limit := intParam(r, "limit", 100)
	offset := intParam(r, "offset", 0)

	s.mu.Lock()
	var matched []domain.Alert
	for _, rec := range s.alerts {
		if rec.BestCreated() > since {
			matched = append(matched, rec)
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].BestCreated() < matched[j].BestCreated()
	})

	ids := make([]string, 0, limit)
	for i := offset; i < len(matched) && i < offset+limit; i++ {
		ids = append(ids, matched[i].ID())
	}

	writeJSON(w, http.StatusOK, map[string]any{
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

// handleEntities implements the bulk record fetch.
func (s *simulator) handleEntities(w http.ResponseWriter, r *http.Request) {
	if s.maybeRateLimit(w) {
		return
	}

	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	wanted := make(map[string]bool, len(body.IDs))
	for _, id := range body.IDs {
		wanted[id] = true
	}

	s.mu.Lock()
	var records []domain.Alert
	for _, rec := range s.alerts {
		if wanted[rec.ID()] {
			records = append(records, rec)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"resources": records})
}

// maybeRateLimit answers with a 429 every limitEvery-th request and
// reports whether it did.
func (s *simulator) maybeRateLimit(w http.ResponseWriter) bool {
	s.mu.Lock()
	s.queries++
	limited := s.limitEvery > 0 && s.queries%s.limitEvery == 0
	s.mu.Unlock()

	if limited {
		s.logger.Info("injecting rate limit", "retryAfter", s.retryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(s.retryAfter))
		w.WriteHeader(http.StatusTooManyRequests)
	}
	return limited
}

// parseSince extracts the timestamp from a filter expression of the
// form created_timestamp:>'2026-01-01T00:00:00Z'.
func parseSince(filter string) string {
	start := strings.Index(filter, ">'")
	if start < 0 {
		return ""
	}
	rest := filter[start+2:]
	end := strings.Index(rest, "'")
	if end < 0 {
		return rest
	}
	return rest[:end]
}

func intParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
