// Package admin serves the operational HTTP endpoints: health, the external
// cron trigger for scheduled delivery and a leaderboard.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/scheduler"
	"github.com/smith3v/valentine-bot/pkg/valentine"
)

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
)

type Delivery interface {
	Tick(ctx context.Context, now time.Time) (scheduler.Report, error)
}

type Leaderboard interface {
	TopReceivers(ctx context.Context, limit int) ([]valentine.LeaderboardEntry, error)
	TopSenders(ctx context.Context, limit int) ([]valentine.LeaderboardEntry, error)
}

type Server struct {
	addr        string
	cronSecret  string
	delivery    Delivery
	leaderboard Leaderboard
	now         func() time.Time
	router      *chi.Mux
}

func NewServer(addr, cronSecret string, delivery Delivery, leaderboard Leaderboard, now func() time.Time) *Server {
	if now == nil {
		now = time.Now
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:        addr,
		cronSecret:  cronSecret,
		delivery:    delivery,
		leaderboard: leaderboard,
		now:         now,
		router:      r,
	}
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Group(func(cron chi.Router) {
		cron.Use(s.cronAuthMiddleware())
		cron.Get("/cron/deliver", s.handleDeliver)
		cron.Post("/cron/deliver", s.handleDeliver)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin shutdown error", "error", err)
		}
	}()

	logger.Info("admin server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	report, err := s.delivery.Tick(r.Context(), s.now())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"due":       report.Due,
		"delivered": report.Delivered,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
	})
}

type leaderboardRow struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	Total    int64  `json:"total"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLeaderboardSize)
	}

	ctx := r.Context()
	receivers, err := s.leaderboard.TopReceivers(ctx, limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	senders, err := s.leaderboard.TopSenders(ctx, limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]leaderboardRow{
		"top_receivers": toRows(receivers),
		"top_senders":   toRows(senders),
	})
}

func toRows(entries []valentine.LeaderboardEntry) []leaderboardRow {
	rows := make([]leaderboardRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, leaderboardRow{UserID: e.UserID, Username: e.Username, Total: e.Total})
	}
	return rows
}

// cronAuthMiddleware requires "Authorization: Bearer <secret>" once a secret
// is configured.
func (s *Server) cronAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cronSecret == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	logger.Error("admin handler error", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
