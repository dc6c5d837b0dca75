package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/SimonWaldherr/boxsql"
	"github.com/SimonWaldherr/boxsql/internal/config"
	"github.com/SimonWaldherr/boxsql/internal/logging"
	"github.com/SimonWaldherr/boxsql/internal/scheduler"
)

// server state
type server struct {
	db      *boxsql.DB
	sched   *scheduler.Scheduler
	logger  *slog.Logger
	dsn     string
	started time.Time
}

func newServer(db *boxsql.DB, dsn string, logger *slog.Logger) *server {
	s := &server{db: db, dsn: dsn, logger: logger, started: time.Now()}
	s.sched = scheduler.New(scheduler.ExecutorFunc(s.runJob), logger, nil)
	return s
}

func (s *server) execute(ctx context.Context, req *executeRequest) (*boxsql.Result, error) {
	if req.SQL == nil {
		return nil, boxsql.ErrUsage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.db.Execute(*req.SQL, req.Params, req.Count)
}

func (s *server) query(ctx context.Context, sql *string) ([]*boxsql.Table, error) {
	if sql == nil {
		return nil, boxsql.ErrUsage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.db.Query(*sql)
}

func (s *server) runJob(ctx context.Context, sql string) (int, error) {
	tables, err := s.query(ctx, &sql)
	return len(tables), err
}

// HTTP handlers
func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp, _ := s.executeResult(r.Context(), &req)
	writeJSON(w, httpStatus(resp.Kind), resp)
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp, _ := s.queryResult(r.Context(), &req)
	writeJSON(w, httpStatus(resp.Kind), resp)
}

type jobStatus struct {
	Name    string `json:"name"`
	Next    string `json:"next,omitempty"`
	LastRun string `json:"last_run,omitempty"`
	LastErr string `json:"last_error,omitempty"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var jobs []jobStatus
	for _, name := range s.sched.Jobs() {
		js := jobStatus{Name: name}
		if next := s.sched.Next(name); !next.IsZero() {
			js.Next = next.Format(time.RFC3339)
		}
		if last, ok := s.sched.Last(name); ok {
			js.LastRun = last.Start.Format(time.RFC3339)
			if last.Err != nil {
				js.LastErr = last.Err.Error()
			}
		}
		jobs = append(jobs, js)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"time":   time.Now().Format(time.RFC3339),
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"dsn":    s.dsn,
		"jobs":   jobs,
		"build":  "dev",
	})
}

func httpStatus(kind string) int {
	switch kind {
	case "":
		return http.StatusOK
	case "client":
		return http.StatusBadRequest
	case "out_of_memory":
		return http.StatusInsufficientStorage
	case "canceled":
		return http.StatusRequestTimeout
	case "deadline_exceeded":
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/execute", s.handleExecute)
	mux.HandleFunc("/api/query", s.handleQuery)
	mux.HandleFunc("/api/status", s.handleStatus)
	return mux
}

func main() {
	cfg, err := config.FromFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logging.Init(cfg.Log.Logging()); err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logging.Close()
	logger := logging.Logger()

	db, err := boxsql.Open(cfg.DSN,
		boxsql.WithLogger(logger),
		boxsql.WithPoolLimit(cfg.Limits.PoolBytes),
		boxsql.WithRegionLimit(cfg.Limits.RegionBytes),
	)
	if err != nil {
		log.Fatalf("open error: %v", err)
	}
	defer db.Close()

	srv := newServer(db, cfg.DSN, logger)
	for _, j := range cfg.Jobs {
		if err := srv.sched.Add(scheduler.Job{Name: j.Name, Cron: j.Cron, SQL: j.SQL}); err != nil {
			logger.Error("failed to schedule job", "job", j.Name, "error", err)
		}
	}
	srv.sched.Start()
	defer srv.sched.Stop()

	// Register JSON codec for gRPC
	encoding.RegisterCodec(jsonCodec{})

	errCh := make(chan error, 2)
	var gs *grpc.Server
	if cfg.GRPC != "" {
		lis, err := net.Listen("tcp", cfg.GRPC)
		if err != nil {
			log.Fatalf("gRPC listen error: %v", err)
		}
		gs = grpc.NewServer()
		registerSQLServer(gs, srv)
		logger.Info("gRPC listening", "addr", lis.Addr().String())
		go func() { errCh <- gs.Serve(lis) }()
	}

	var hs *http.Server
	if cfg.HTTP != "" {
		hs = &http.Server{Addr: cfg.HTTP, Handler: srv.mux(), ReadHeaderTimeout: 10 * time.Second}
		logger.Info("HTTP listening", "addr", cfg.HTTP)
		go func() { errCh <- hs.ListenAndServe() }()
	}
	if gs == nil && hs == nil && len(cfg.Jobs) == 0 {
		log.Fatal("nothing to do: gRPC, HTTP and jobs are all disabled")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("serve error", "error", err)
		}
	}
	if hs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = hs.Shutdown(ctx)
		cancel()
	}
	if gs != nil {
		gs.GracefulStop()
	}
}
