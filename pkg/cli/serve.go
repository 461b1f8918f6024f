package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/netlens/pkg/config"
	"github.com/getmockd/netlens/pkg/feed"
	"github.com/getmockd/netlens/pkg/kvstore"
	"github.com/getmockd/netlens/pkg/logging"
	"github.com/getmockd/netlens/pkg/monitor"
	"github.com/getmockd/netlens/pkg/proxy"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor with its feed API and optional proxy",
	Long: `Run the monitor and serve the captured events over HTTP.

The feed API listens on feed.addr. When proxy.addr is set, an HTTP forward
proxy also listens there and every request it forwards is captured.`,
	Example: `  # Serve with defaults (feed on 127.0.0.1:7070)
  netlens serve

  # Serve with a config file and debug logging
  netlens serve --config netlens.yaml --log-level debug

  # Route a client through the proxy
  HTTP_PROXY=http://127.0.0.1:7071 curl http://example.com/`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, closer, err := openLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() { _ = closer.Close() }()

		sctx, err := newServeContext(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		if err := sctx.start(); err != nil {
			sctx.shutdown()
			return err
		}
		printServeStartupMessage(cmd.OutOrStdout(), sctx)

		<-cmd.Context().Done()
		fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")
		sctx.shutdown()
		fmt.Fprintln(cmd.OutOrStdout(), "Server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serveContext holds everything serve starts so shutdown can unwind it.
type serveContext struct {
	cfg *config.Config
	log *slog.Logger

	kv      kvstore.Store
	mon     *monitor.Monitor
	feed    *feed.Server
	proxy   *proxy.Proxy
	servers []*namedServer
}

type namedServer struct {
	name string
	srv  *http.Server
	ln   net.Listener
}

func newServeContext(ctx context.Context, cfg *config.Config, log *slog.Logger) (*serveContext, error) {
	log = logging.OrNop(log)

	kv, err := kvstore.Open(cfg.Ignore.Backend, cfg.Ignore.IgnorePath())
	if err != nil {
		return nil, fmt.Errorf("opening ignore store: %w", err)
	}

	mon := monitor.New(ctx, monitor.Options{
		Logger:      log,
		MaxEvents:   cfg.Monitor.MaxEvents,
		MaxBodySize: cfg.Monitor.MaxBodySize,
		IgnoreURLs:  cfg.Monitor.IgnoreURLs,
		KV:          kv,
	})
	if err := mon.SetFilter(cfg.Monitor.Filter); err != nil {
		mon.Close()
		_ = kv.Close()
		return nil, fmt.Errorf("applying initial filter: %w", err)
	}
	if cfg.Monitor.StartActive {
		mon.StartListening()
	}

	sctx := &serveContext{
		cfg:  cfg,
		log:  log,
		kv:   kv,
		mon:  mon,
		feed: feed.New(mon, logging.Component(log, "feed")),
	}
	sctx.servers = append(sctx.servers, &namedServer{
		name: "feed",
		srv:  &http.Server{Addr: cfg.Feed.Addr, Handler: sctx.feed, ReadHeaderTimeout: readHeaderTimeout},
	})

	if cfg.Proxy.Addr != "" {
		rules := cfg.Proxy.Rules
		sctx.proxy = proxy.New(proxy.Options{
			Client: &http.Client{Transport: mon.WrapTransport(nil), Timeout: cfg.Proxy.Timeout},
			Rules:  &rules,
			Logger: logging.Component(log, "proxy"),
		})
		sctx.servers = append(sctx.servers, &namedServer{
			name: "proxy",
			srv:  &http.Server{Addr: cfg.Proxy.Addr, Handler: sctx.proxy, ReadHeaderTimeout: readHeaderTimeout},
		})
	}
	return sctx, nil
}

// start binds every listener before serving so a port conflict fails fast.
func (s *serveContext) start() error {
	for _, ns := range s.servers {
		ln, err := net.Listen("tcp", ns.srv.Addr)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("%s: listening on %s: %w", ns.name, ns.srv.Addr, err)
		}
		ns.ln = ln
	}
	for _, ns := range s.servers {
		go func(ns *namedServer) {
			if err := ns.srv.Serve(ns.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("server stopped", "server", ns.name, "error", err)
			}
		}(ns)
		s.log.Info("listening", "server", ns.name, "addr", ns.ln.Addr().String())
	}
	return nil
}

func (s *serveContext) closeListeners() {
	for _, ns := range s.servers {
		if ns.ln != nil {
			_ = ns.ln.Close()
			ns.ln = nil
		}
	}
}

// addr returns the bound address of the named server, or "".
func (s *serveContext) addr(name string) string {
	for _, ns := range s.servers {
		if ns.name == name && ns.ln != nil {
			return ns.ln.Addr().String()
		}
	}
	return ""
}

func (s *serveContext) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Streams are hijacked connections that Shutdown does not wait for.
	s.feed.Close()
	for _, ns := range s.servers {
		if ns.ln == nil {
			continue
		}
		if err := ns.srv.Shutdown(ctx); err != nil {
			s.log.Warn("shutdown error", "server", ns.name, "error", err)
		}
	}
	s.mon.Close()
	if err := s.kv.Close(); err != nil {
		s.log.Warn("closing ignore store", "error", err)
	}
}

func printServeStartupMessage(w io.Writer, s *serveContext) {
	fmt.Fprintf(w, "netlens %s\n", Version)
	fmt.Fprintf(w, "  Feed API:  http://%s\n", s.addr("feed"))
	if addr := s.addr("proxy"); addr != "" {
		fmt.Fprintf(w, "  Proxy:     http://%s\n", addr)
	}
	fmt.Fprintf(w, "  Listening: %t\n", s.mon.IsActive())
	fmt.Fprintf(w, "  Ignore:    %s\n", s.cfg.Ignore.Backend)
}
