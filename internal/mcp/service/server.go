package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/matt-davison/agent-quest/internal/app"
	"github.com/matt-davison/agent-quest/internal/mcp/domain"
	"github.com/matt-davison/agent-quest/internal/notifications/render"
	"github.com/matt-davison/agent-quest/internal/platform/timeouts"
)

const (
	serverName = "questline"
	// serverVersion identifies the MCP server version.
	serverVersion = "0.1.0"
)

// Transports the server can run over.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

const (
	// DefaultHTTPAddr binds the HTTP transport to loopback.
	DefaultHTTPAddr   = "localhost:8081"
	httpHeaderTimeout = 10 * time.Second
)

// Dependencies are the services the tools drive.
type Dependencies struct {
	Sessions  domain.SessionLifecycle
	Turns     domain.TurnCoordinator
	Relay     domain.Relay
	Inbox     domain.Inbox
	Defaults  domain.Defaults
	Localizer render.Localizer
}

// DependenciesFromApp binds the tools to an opened App.
func DependenciesFromApp(a *app.App) Dependencies {
	return Dependencies{
		Sessions:  a.Sessions,
		Turns:     a.Sessions,
		Relay:     a.Relay,
		Inbox:     a.Notifications,
		Defaults:  a,
		Localizer: a.Printer,
	}
}

// Server is the questline MCP tool server.
type Server struct {
	mcpServer *mcp.Server
}

// New registers every tool module on a fresh MCP server.
func New(deps Dependencies) (*Server, error) {
	if deps.Sessions == nil || deps.Turns == nil || deps.Relay == nil || deps.Inbox == nil || deps.Defaults == nil {
		return nil, errors.New("mcp server dependencies are incomplete")
	}
	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	for _, module := range newMCPRegistrationModules(deps) {
		if err := module.register(mcpServerRegistrationAdapter{server: mcpServer}); err != nil {
			return nil, fmt.Errorf("register MCP module %q: %w", module.name, err)
		}
	}
	return &Server{mcpServer: mcpServer}, nil
}

// Run serves the tools over the named transport until ctx ends.
func Run(ctx context.Context, a *app.App, transport, httpAddr string) error {
	server, err := New(DependenciesFromApp(a))
	if err != nil {
		return err
	}
	switch transport {
	case "", TransportStdio:
		return server.Serve(ctx)
	case TransportHTTP:
		return server.ServeHTTP(ctx, httpAddr)
	default:
		return fmt.Errorf("transport %q is not supported", transport)
	}
}

// Serve runs the server on stdio and blocks until it stops or ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	return s.serveWithTransport(ctx, &mcp.StdioTransport{})
}

// serveWithTransport treats cancellation as a clean stop.
func (s *Server) serveWithTransport(ctx context.Context, transport mcp.Transport) error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	err := s.mcpServer.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

// Handler exposes the server as a streamable HTTP handler.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcpServer }, nil)
}

// ServeHTTP listens on addr and serves /mcp until ctx ends.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultHTTPAddr
	}
	mux := http.NewServeMux()
	mux.Handle("/mcp", s.Handler())
	mux.HandleFunc("/mcp/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: httpHeaderTimeout,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	log.Printf("Starting MCP HTTP server on %s", listener.Addr())

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		log.Printf("Shutting down MCP HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP server: %w", err)
		}
		return nil
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return fmt.Errorf("HTTP server error: %w", err)
	}
}
