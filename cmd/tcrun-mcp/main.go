// Package main provides the tcrun-mcp binary, an MCP server exposing test
// case validation, compilation and verification to AI agents over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	tmcp "github.com/ormasoftchile/tcrun/pkg/ecosystem/mcp"
)

var version = "dev"

func main() {
	s := tmcp.NewServer(version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
