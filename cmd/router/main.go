// Command router runs the Strata aggregation router: the process that
// receives aggregate commands, splits their pipelines between shard nodes
// and a merge phase, and orchestrates the distributed execution.
//
// Configuration:
//   - ROUTER_LISTEN: listen address (default ":8080"), or --listen
//
// Nodes announce themselves over POST /register; clients send aggregate
// commands to POST /db/{db}/aggregate.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/catalog"
	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/document"
	"github.com/dreamware/strata/internal/router"
)

func main() {
	var (
		listen         string
		healthInterval time.Duration
	)

	root := &cobra.Command{
		Use:   "router",
		Short: "Strata aggregation router",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(listen, healthInterval)
		},
	}
	root.Flags().StringVar(&listen, "listen", getenv("ROUTER_LISTEN", ":8080"), "listen address")
	root.Flags().DurationVar(&healthInterval, "health-interval", 5*time.Second, "target health check interval")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(listen string, healthInterval time.Duration) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	registry := catalog.NewRegistry()
	comm := cluster.NewHTTPCommander(30 * time.Second)
	exec := router.NewExecutor(registry, comm, log)

	monitor := catalog.NewMonitor(healthInterval, log)
	go monitor.Start(context.Background(), registry.AllTargets)
	defer monitor.Stop()

	srv := &server{registry: registry, exec: exec, monitor: monitor, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/register", srv.handleRegister)
	mux.HandleFunc("/targets", srv.handleTargets)
	mux.HandleFunc("/db/", srv.handleAggregate)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("router listening", zap.String("addr", listen))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Info("router stopped")
	return nil
}

type server struct {
	registry *catalog.Registry
	exec     *router.Executor
	monitor  *catalog.Monitor
	log      *zap.Logger
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Target.Addr == "" {
		http.Error(w, "missing target addr", http.StatusBadRequest)
		return
	}

	for _, db := range req.PrimaryFor {
		if err := s.registry.AddDatabase(db, req.Target); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	for _, ns := range req.Namespaces {
		if err := s.registry.AddOwner(ns, req.Target); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	s.log.Info("registered target",
		zap.Stringer("target", req.Target),
		zap.Strings("namespaces", req.Namespaces),
		zap.Strings("primary_for", req.PrimaryFor))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleTargets(w http.ResponseWriter, r *http.Request) {
	targets := s.registry.AllTargets()
	type entry struct {
		Target  cluster.ShardTarget `json:"target"`
		Healthy bool                `json:"healthy"`
	}
	out := make([]entry, 0, len(targets))
	for _, t := range targets {
		out = append(out, entry{Target: t, Healthy: s.monitor.IsHealthy(t.Addr)})
	}
	_ = json.NewEncoder(w).Encode(struct {
		Targets []entry `json:"targets"`
	}{Targets: out})
}

// handleAggregate serves POST /db/{db}/aggregate.
func (s *server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/db/")
	db, op, found := strings.Cut(rest, "/")
	if !found || db == "" || op != "aggregate" {
		http.Error(w, "expected /db/{db}/aggregate", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd, err := document.Decode(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.exec.ExecutePipeline(r.Context(), db, cmd)
	if err != nil {
		result = conditionToDoc(err)
	}

	w.Header().Set("Content-Type", "application/json")
	payload, err := result.Encode()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(payload)
}

// conditionToDoc shapes a raised executor condition as a command response so
// clients see one uniform failure format.
func conditionToDoc(err error) document.Doc {
	code := 0
	var spe *router.ShardPipelineError
	var pe *router.ProtocolError
	var cde *router.CannotDowngradeError
	var ee *router.ExplainError
	switch {
	case errors.As(err, &spe):
		code = spe.Code
	case errors.As(err, &pe):
		code = pe.Code
	case errors.As(err, &cde):
		code = cde.Code
	case errors.As(err, &ee):
		code = ee.Code
	}
	out := document.Doc{"ok": false, "errmsg": err.Error()}
	if code != 0 {
		out["code"] = code
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
