package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/botsmith/internal/api"
	"github.com/kalambet/botsmith/internal/chat"
	"github.com/kalambet/botsmith/internal/config"
	"github.com/kalambet/botsmith/internal/extract"
	"github.com/kalambet/botsmith/internal/ingest"
	"github.com/kalambet/botsmith/internal/llm"
	"github.com/kalambet/botsmith/internal/metrics"
	"github.com/kalambet/botsmith/internal/objstore"
	"github.com/kalambet/botsmith/internal/storage"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	llmMaxRetries     = 2
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the botsmith server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve bots to an MCP client over stdio",
	Long: `Serve bots to an MCP client over stdio.

The MCP server reads the same store as "botsmith start". Use the sqlite
storage backend to share bots between the two.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func setupLogging(cfg config.Config, w io.Writer) {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func openStore(cfg config.Config) (storage.Repository, error) {
	switch cfg.Storage.Backend {
	case config.StorageSQLite:
		store, err := storage.OpenSQLite(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		return store, nil
	default:
		return storage.NewMemoryStore(), nil
	}
}

// ensureDefaultUser creates the implicit owner of all bots on first start.
func ensureDefaultUser(store storage.Repository) error {
	_, err := store.GetUserByUsername(storage.DefaultUserID)
	if errors.Is(err, storage.ErrNotFound) {
		_, err = store.CreateUser(storage.DefaultUserID)
	}
	if err != nil {
		return fmt.Errorf("ensuring default user: %w", err)
	}
	return nil
}

// openObjects returns the configured object store and a func releasing it.
func openObjects(ctx context.Context, cfg config.Config) (objstore.Store, func(), error) {
	if cfg.Objects.Backend == config.ObjectsGCS {
		gcs, err := objstore.NewGCS(ctx, cfg.Objects.PrivateDir, cfg.Objects.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return gcs, func() {
			if err := gcs.Close(); err != nil {
				slog.Warn("closing object storage client", "error", err)
			}
		}, nil
	}
	local, err := objstore.NewLocal(cfg.Objects.LocalDir, localBaseURL(cfg.Server))
	if err != nil {
		return nil, nil, err
	}
	return local, func() {}, nil
}

// localBaseURL is the address upload URLs of the local object backend point
// at. Wildcard listen hosts are replaced by loopback.
func localBaseURL(s config.ServerConfig) string {
	host := s.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port))
}

func newLLMClient(cfg config.Config) *llm.Client {
	return llm.New(llm.Options{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: llmMaxRetries,
	})
}

func runServer() error {
	fmt.Fprintln(os.Stderr, versionLine())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	if err := ensureDefaultUser(store); err != nil {
		return err
	}

	objects, closeObjects, err := openObjects(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeObjects()

	m := metrics.New()

	llmClient := newLLMClient(cfg)
	responder := chat.NewResponder(store, llmClient, m.ObserveChat)

	pipe, err := ingest.New(store, extract.NewFileExtractor(objects, nil),
		ingest.WithPoolSize(cfg.Ingest.Workers),
		ingest.WithQueueSize(cfg.Ingest.QueueSize),
		ingest.WithDelayScale(cfg.Ingest.DelayScale),
		ingest.WithObserver(m.ObserveIngestion),
	)
	if err != nil {
		return fmt.Errorf("creating ingestion pipeline: %w", err)
	}
	if n, err := pipe.Resume(); err != nil {
		slog.Warn("could not resume all pending training data", "queued", n, "error", err)
	} else if n > 0 {
		slog.Info("resumed pending training data", "count", n)
	}

	handler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Objects:   objects,
		Ingester:  pipe,
		Responder: responder,
		Metrics:   m,
	})

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr(), err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipe.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("botsmith listening", "addr", ln.Addr().String(), "model", llmClient.Model(), "llm_configured", llmClient.Configured())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// runMCP serves the MCP protocol on stdin/stdout. Logs go to stderr so the
// protocol stream stays clean.
func runMCP() error {
	fmt.Fprintln(os.Stderr, versionLine())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := ensureDefaultUser(store); err != nil {
		return err
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Responder: chat.NewResponder(store, newLLMClient(cfg), nil),
	}, version)

	slog.Info("MCP server started (stdio transport)", "storage", cfg.Storage.Backend)
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
