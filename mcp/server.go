// Package mcp exposes a wallet to assistants over the Model Context
// Protocol. Each tool wraps one wallet operation and returns its
// outcome as JSON text, so an agent can read amounts, settlement ids
// and failure codes instead of parsing prose.
package mcp

import (
	"fmt"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mark3labs/agentwallet-go/wallet"
	"github.com/mark3labs/agentwallet-go/x402"
)

// Server wraps an MCP server and routes its wallet tools to a Wallet.
type Server struct {
	wallet         *wallet.Wallet
	defaultNetwork string
	mcpServer      *mcpserver.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithDefaultNetwork sets the network used when a tool call does not
// name one.
func WithDefaultNetwork(network string) Option {
	return func(s *Server) {
		if network != "" {
			s.defaultNetwork = network
		}
	}
}

// NewServer creates an MCP server exposing w's operations as tools.
func NewServer(name, version string, w *wallet.Wallet, opts ...Option) (*Server, error) {
	if w == nil {
		return nil, fmt.Errorf("mcp: wallet is required")
	}

	s := &Server{
		wallet:         w,
		defaultNetwork: x402.DefaultNetwork,
		mcpServer:      mcpserver.NewMCPServer(name, version),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()
	return s, nil
}

// Handler returns the streamable-HTTP handler, for mounting on an
// existing mux.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer)
}

// Start serves the streamable-HTTP transport on addr.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}

// ServeStdio serves the stdio transport until stdin closes. This is
// the transport assistants launch as a subprocess.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

// GetMCPServer returns the underlying MCP server (for advanced usage,
// e.g. registering extra tools).
func (s *Server) GetMCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
