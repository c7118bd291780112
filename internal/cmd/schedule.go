package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/catherinevee/depmgr/internal/config"
	"github.com/catherinevee/depmgr/internal/database"
	"github.com/catherinevee/depmgr/internal/discovery"
	"github.com/catherinevee/depmgr/internal/graph"
	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/metrics"
	"github.com/catherinevee/depmgr/internal/models"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run discovery for every configured user on an interval",
	Long: `Run discovery for each user under schedule.users (or every user with
configured credentials) every interval, until interrupted. The configuration
file is watched and reloaded between runs. With a metrics address, Prometheus
metrics and the latest run summaries are served over HTTP.`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

var (
	scheduleInterval    time.Duration
	scheduleMetricsAddr string
)

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().DurationVar(&scheduleInterval, "interval", 0, "time between runs (overrides schedule.interval)")
	scheduleCmd.Flags().StringVar(&scheduleMetricsAddr, "metrics-addr", "", "serve /metrics on this address (overrides metrics.address)")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	manager, err := config.NewManager(cfgFile)
	if err != nil {
		return err
	}
	if err := manager.Watch(); err != nil {
		return err
	}
	defer manager.Stop()

	store, err := database.New(&database.Config{Path: cfg.Storage.Path})
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := newScheduler(manager.Get(), store, store, metrics.NewTracker(reg))
	s.interval = scheduleInterval
	manager.OnChange(s.reconfigure)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := scheduleMetricsAddr
	if addr == "" {
		addr = cfg.Metrics.Address
	}
	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: s.router(reg), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("metrics server failed", logger.Error(err))
				cancel()
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
		s.log.Info("serving metrics", logger.String("address", addr))
	}

	s.loop(ctx)
	return nil
}

// scheduler runs discovery for every user on an interval and keeps the last
// summary of each
type scheduler struct {
	writer  graph.Writer
	reader  graph.Reader
	tracker *metrics.Tracker
	log     logger.Logger

	// interval overrides the configured interval when positive
	interval time.Duration

	mu   sync.RWMutex
	cfg  *config.Config
	orch *discovery.Orchestrator
	last map[string]models.DiscoverySummary
}

func newScheduler(c *config.Config, writer graph.Writer, reader graph.Reader, tracker *metrics.Tracker) *scheduler {
	s := &scheduler{
		writer:  writer,
		reader:  reader,
		tracker: tracker,
		log:     logger.New("scheduler"),
		last:    make(map[string]models.DiscoverySummary),
	}
	s.reconfigure(c)
	return s
}

// reconfigure rebuilds the pipeline; a run in progress keeps the old one
func (s *scheduler) reconfigure(c *config.Config) {
	orch := pipeline{cfg: c, log: logger.New("discovery")}.orchestrator(s.writer, s.tracker)
	s.mu.Lock()
	s.cfg = c
	s.orch = orch
	s.mu.Unlock()
}

func (s *scheduler) current() (*config.Config, *discovery.Orchestrator) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.orch
}

// users lists schedule.users, or every user with configured credentials
func (s *scheduler) users() []string {
	c, _ := s.current()
	if len(c.Schedule.Users) > 0 {
		return append([]string(nil), c.Schedule.Users...)
	}
	users := make([]string, 0, len(c.Credentials))
	for user := range c.Credentials {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

func (s *scheduler) nextInterval() time.Duration {
	if s.interval > 0 {
		return s.interval
	}
	c, _ := s.current()
	return c.Schedule.Interval
}

func (s *scheduler) loop(ctx context.Context) {
	for {
		s.runOnce(ctx)

		wait := s.nextInterval()
		s.log.Debug("waiting for next run", logger.Duration("interval", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runOnce runs discovery for each user in turn
func (s *scheduler) runOnce(ctx context.Context) {
	for _, user := range s.users() {
		if ctx.Err() != nil {
			return
		}
		c, orch := s.current()
		summary := orch.RunDiscoveryForUser(ctx, user, c.CredentialsFor(user))

		s.mu.Lock()
		s.last[user] = summary
		s.mu.Unlock()

		s.log.Info("scheduled discovery finished",
			logger.UserID(user),
			logger.String("run_id", summary.RunID),
			logger.Int("edges", summary.Phase3Edges),
			logger.Int("errors", len(summary.Errors)),
		)
	}
}

func (s *scheduler) lastSummary(user string) (models.DiscoverySummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.last[user]
	return summary, ok
}

func (s *scheduler) router(reg *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/runs/{user}", s.handleRun).Methods(http.MethodGet)
	router.HandleFunc("/graph/{user}", s.handleGraph).Methods(http.MethodGet)
	return router
}

func (s *scheduler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": version,
		"time":    time.Now().UTC(),
	})
}

func (s *scheduler) handleRun(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	summary, ok := s.lastSummary(user)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run recorded for " + user})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *scheduler) handleGraph(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	g, err := s.reader.LoadGraph(r.Context(), user)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	encodeReport(w, nil, g)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
