// Command node runs a Strata shard node: it stores one partition of each
// sharded collection and executes the shard-local half of aggregation
// pipelines dispatched by the router, producing cursors the router merges.
//
// Configuration:
//   - NODE_ID: unique node identifier, or --id (default: generated)
//   - NODE_LISTEN: listen address, or --listen (default ":8081")
//   - NODE_ADDR: address advertised to the router, or --advertise
//   - ROUTER_ADDR: router URL, or --router (registration skipped if empty)
//
// The node serves:
//   - POST /command/{db}   command execution (aggregate, getMore, killCursors)
//   - POST /insert/{db}/{collection}   document loading
//   - GET  /health, /info
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/document"
	"github.com/dreamware/strata/internal/pipeline"
	"github.com/dreamware/strata/internal/shard"
	"github.com/dreamware/strata/internal/storage"
)

type nodeConfig struct {
	id         string
	listen     string
	advertise  string
	routerAddr string
	namespaces []string
	primaryFor []string
	legacy     bool
}

func main() {
	var cfg nodeConfig

	root := &cobra.Command{
		Use:   "node",
		Short: "Strata shard node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	root.Flags().StringVar(&cfg.id, "id", getenv("NODE_ID", ""), "node identifier")
	root.Flags().StringVar(&cfg.listen, "listen", getenv("NODE_LISTEN", ":8081"), "listen address")
	root.Flags().StringVar(&cfg.advertise, "advertise", getenv("NODE_ADDR", ""), "address advertised to the router")
	root.Flags().StringVar(&cfg.routerAddr, "router", getenv("ROUTER_ADDR", ""), "router URL for registration")
	root.Flags().StringSliceVar(&cfg.namespaces, "namespaces", nil, "sharded namespaces this node owns a partition of")
	root.Flags().StringSliceVar(&cfg.primaryFor, "primary-for", nil, "databases this node is the primary target for")
	root.Flags().BoolVar(&cfg.legacy, "legacy-protocol", false, "emulate a pre-cursor node (compatibility testing)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg nodeConfig) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.id == "" {
		cfg.id = "node-" + uuid.NewString()[:8]
	}
	if cfg.advertise == "" {
		cfg.advertise = "http://127.0.0.1" + cfg.listen
	}

	store := storage.NewMemoryStore()
	comm := cluster.NewHTTPCommander(30 * time.Second)

	opts := []shard.Option{shard.WithPeerFetcher(peerFetcher(comm))}
	if cfg.legacy {
		opts = append(opts, shard.WithLegacyProtocol())
	}
	engine := shard.NewEngine(cfg.id, store, log, opts...)
	engine.Cursors().Start()
	defer engine.Cursors().Stop()

	srv := &server{id: cfg.id, engine: engine, store: store, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/command/", srv.handleCommand)
	mux.HandleFunc("/insert/", srv.handleInsert)
	mux.HandleFunc("/info", srv.handleInfo)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:              cfg.listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("node listening", zap.String("id", cfg.id), zap.String("addr", cfg.listen))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	if cfg.routerAddr != "" {
		register(cfg, log)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	log.Info("node stopped")
	return nil
}

// peerFetcher lets this node drain cursors on its peers, which is what a
// dispatched merge pipeline headed by $mergeCursors needs.
func peerFetcher(comm cluster.Commander) func(db, coll string) pipeline.CursorFetcher {
	return func(db, coll string) pipeline.CursorFetcher {
		return func(ctx context.Context, target cluster.ShardTarget, id int64) ([]document.Doc, bool, error) {
			resp, err := comm.RunCommand(ctx, target, db, document.Doc{"getMore": id, "collection": coll})
			if err != nil {
				return nil, false, err
			}
			if !resp.Ok() {
				return nil, false, fmt.Errorf("getMore on %s failed: %s", target.Name(), resp.ErrMsg())
			}
			cursor := resp.Doc("cursor")
			return cursor.Docs("nextBatch"), cursor.Int64("id") == 0, nil
		}
	}
}

// dedupe drops empty and repeated entries, keeping first-seen order. Flag
// values can repeat when set both via environment and command line.
func dedupe(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func register(cfg nodeConfig, log *zap.Logger) {
	req := cluster.RegisterRequest{
		Target:     cluster.ShardTarget{ShardID: cfg.id, Addr: cfg.advertise},
		Namespaces: dedupe(cfg.namespaces),
		PrimaryFor: dedupe(cfg.primaryFor),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := strings.TrimRight(cfg.routerAddr, "/") + "/register"
	if err := cluster.PostJSON(ctx, url, req, nil); err != nil {
		log.Warn("registration with router failed", zap.String("router", cfg.routerAddr), zap.Error(err))
		return
	}
	log.Info("registered with router", zap.String("router", cfg.routerAddr))
}

type server struct {
	id     string
	engine *shard.Engine
	store  storage.Store
	log    *zap.Logger
}

// handleCommand serves POST /command/{db}.
func (s *server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	db := strings.TrimPrefix(r.URL.Path, "/command/")

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

	resp := s.engine.RunCommand(r.Context(), db, cmd)

	w.Header().Set("Content-Type", "application/json")
	payload, err := resp.Encode()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(payload)
}

// handleInsert serves POST /insert/{db}/{collection} with {"docs": [...]}.
func (s *server) handleInsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/insert/")
	_, coll, found := strings.Cut(rest, "/")
	if !found || coll == "" {
		http.Error(w, "expected /insert/{db}/{collection}", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	payload, err := document.Decode(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	docs := payload.Docs("docs")
	if err := s.store.Insert(coll, docs...); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"inserted": len(docs)})
}

func (s *server) handleInfo(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":           s.id,
		"collections":  stats.Collections,
		"documents":    stats.Documents,
		"open_cursors": s.engine.Cursors().Open(),
	})
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
