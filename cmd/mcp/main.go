// Stress engine MCP server.
// Exposes stress test tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/gateway-fm/stressor/internal/mcp"
)

func main() {
	stressorURL := os.Getenv("STRESSOR_URL")
	if stressorURL == "" {
		stressorURL = "http://localhost:3001"
	}

	s := server.NewMCPServer(
		"stressor",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(stressorURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
