package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with tcrun tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"tcrun",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("tcrun/validate",
			mcp.WithDescription("Validate a test case YAML document (structural, semantic and domain checks)"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the test case YAML file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("tcrun/compile",
			mcp.WithDescription("Compile a test case into its self-contained bash artifact"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the test case YAML file")),
			mcp.WithObject("vars", mcp.Description("Hydration values, NAME -> value")),
			mcp.WithString("log_path", mcp.Description("Execution log path baked into the artifact")),
		),
		HandleCompile,
	)

	s.AddTool(
		mcp.NewTool("tcrun/validate-vars",
			mcp.WithDescription("Check hydration values against the variables a test case declares"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the test case YAML file")),
			mcp.WithObject("vars", mcp.Description("Hydration values, NAME -> value")),
		),
		HandleValidateVars,
	)

	s.AddTool(
		mcp.NewTool("tcrun/verify",
			mcp.WithDescription("Verify an execution log against a test case and return step, sequence and test case verdicts"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the test case YAML file")),
			mcp.WithString("log", mcp.Required(), mcp.Description("Path to the execution log JSON file")),
			mcp.WithObject("vars", mcp.Description("Hydration values used when the log was produced")),
		),
		HandleVerify,
	)

	s.AddTool(
		mcp.NewTool("tcrun/schema",
			mcp.WithDescription("Export tcrun JSON Schema (test case or execution log)"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Schema type: 'testcase' or 'log'")),
		),
		HandleSchema,
	)

	return s
}
