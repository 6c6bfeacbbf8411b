// Command workerspawn wires the runner's collaborators together behind a
// small HTTP submission API. It deliberately stays thin: full CLI
// parsing and build-system integration are external collaborators
// (spec §1 Non-goals); this binary exists to exercise the module end to
// end the way the teacher's cmd/server/main.go exercises goxec's queue
// and pool.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaybuild/workerspawn/internal/config"
	"github.com/relaybuild/workerspawn/internal/diagnostics"
	"github.com/relaybuild/workerspawn/internal/dockerworker"
	"github.com/relaybuild/workerspawn/internal/domain"
	"github.com/relaybuild/workerspawn/internal/fallback"
	"github.com/relaybuild/workerspawn/internal/poolapi"
	"github.com/relaybuild/workerspawn/internal/resource"
	"github.com/relaybuild/workerspawn/internal/runner"
	"github.com/relaybuild/workerspawn/internal/workerkey"
	"github.com/relaybuild/workerspawn/internal/workerpool"
)

func main() {
	// 1. Initialize logger.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		slog.Error("usage: workerspawn <settings.toml>")
		os.Exit(1)
	}

	// 2. Load this module's own settings.
	settings, err := config.Load(os.Args[1])
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		os.Exit(1)
	}

	// 3. Resource manager, injected rather than a singleton.
	resources := resource.NewManager(settings.Resources.CPU, settings.Resources.MemMB)

	// 4. Worker pool. Spawns real worker containers when an image is
	// configured; falls back to in-process stub workers otherwise so
	// the demo still runs without Docker available.
	image := os.Getenv("WORKERSPAWN_IMAGE")
	pool := workerpool.New(workerSpawner(image), settings.PoolMaxPerKey)

	// 5. Diagnostics fan-out: Redis publish + WebSocket dashboard.
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	var events runner.EventSink
	hub := diagnostics.NewHub()
	if publisher, err := diagnostics.NewRedisPublisher(redisAddr); err != nil {
		slog.Warn("diagnostics disabled: could not reach redis", "error", err)
	} else {
		events = publisher
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := hub.Run(ctx, publisher); err != nil {
				slog.Error("diagnostics hub stopped", "error", err)
			}
		}()
	}

	// 6. Orchestrator.
	orc := &runner.Orchestrator{
		Pool:                 pool,
		Resources:            resources,
		Fallback:             fallback.OneShot{},
		ExtraFlags:           settings.ExtraFlags,
		RecordingWindowBytes: settings.RecordingWindowBytes,
		Events:               events,
	}

	// 7. Router.
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/exec", handleExec(orc))
	mux.HandleFunc("GET /diagnostics/ws", hub.ServeHTTP)

	srv := &http.Server{Addr: ":8080", Handler: enableCORS(mux)}
	go func() {
		slog.Info("workerspawn API starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutting down")
	_ = srv.Shutdown(context.Background())
}

// execRequest is the submission payload: a simplified domain.Spawn.
type execRequest struct {
	Argv            []string          `json:"argv"`
	Env             map[string]string `json:"env"`
	Mnemonic        string            `json:"mnemonic"`
	ExecRoot        string            `json:"exec_root"`
	ToolFiles       []string          `json:"tool_files"`
	InputFiles      []string          `json:"input_files"`
	OutputFiles     []string          `json:"output_files"`
	SupportsWorkers bool              `json:"supports_workers"`
}

// handleExec creates a closure to inject the Orchestrator dependency,
// mirroring the teacher's handleSubmit.
func handleExec(orc *runner.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req execRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Mnemonic == "" || len(req.Argv) == 0 {
			http.Error(w, "mnemonic and argv are required", http.StatusBadRequest)
			return
		}

		execInfo := map[string]string{}
		if req.SupportsWorkers {
			execInfo["supports-workers"] = "1"
		}

		spawn := domain.Spawn{
			Argv:          req.Argv,
			Env:           req.Env,
			Mnemonic:      req.Mnemonic,
			ToolFiles:     req.ToolFiles,
			InputFiles:    req.InputFiles,
			OutputFiles:   req.OutputFiles,
			ExecutionInfo: execInfo,
		}
		policy := domain.ExecutionPolicy{
			ExecRoot:        req.ExecRoot,
			Stderr:          os.Stderr.Write,
			LockOutputFiles: func() error { return nil },
			ReportProgress:  func(status domain.ProgressStatus, name string) {},
		}

		slog.Info("received exec request", "mnemonic", req.Mnemonic)
		result, err := orc.Exec(r.Context(), spawn, policy)
		if err != nil {
			slog.Error("exec failed", "mnemonic", req.Mnemonic, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":           result.Status.String(),
			"exit_code":        result.ExitCode,
			"wall_time_millis": result.WallTimeMillis,
		})
	}
}

// enableCORS mirrors the teacher's dev-mode CORS middleware.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// workerSpawner returns a workerpool.Spawner. When image is non-empty it
// spawns real Docker-backed workers; otherwise it falls back to an
// in-process stub so the demo runs without Docker available.
func workerSpawner(image string) workerpool.Spawner {
	if image == "" {
		return func(ctx context.Context, key workerkey.Key) (poolapi.Worker, error) {
			return &workerpool.StubWorker{}, nil
		}
	}

	docker := dockerworker.NewClient()
	return func(ctx context.Context, key workerkey.Key) (poolapi.Worker, error) {
		return docker.Spawn(ctx, image, key.StartupArgs, 0)
	}
}
