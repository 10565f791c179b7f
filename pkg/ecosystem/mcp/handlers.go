package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/kernel/hydrate"
	kschema "github.com/ormasoftchile/tcrun/pkg/kernel/schema"
	kvalidate "github.com/ormasoftchile/tcrun/pkg/kernel/validate"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
	"github.com/ormasoftchile/tcrun/pkg/report"
)

// HandleValidate implements the tcrun/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	tc, errs := kvalidate.ValidateFile(path)
	if kvalidate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d sequences, %d automated steps)", tc.ID, len(tc.Sequences), tc.AutomatedStepCount())
	for _, e := range errs {
		msg += "\n⚠ " + e.Error()
	}
	return textResult(msg), nil
}

// HandleCompile implements the tcrun/compile MCP tool.
func HandleCompile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	plan, res := compileArgs(req)
	if res != nil {
		return res, nil
	}
	script := compiler.RenderBash(plan, compiler.BashOptions{LogPath: req.GetString("log_path", "")})
	return textResult(string(script)), nil
}

// HandleValidateVars implements the tcrun/validate-vars MCP tool.
func HandleValidateVars(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	tc, err := kschema.LoadFile(path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	rep := hydrate.Check(tc, varsArg(req))
	data, _ := json.MarshalIndent(map[string]any{
		"missing":    rep.Missing,
		"extra":      rep.Extra,
		"defaulted":  rep.Defaulted,
		"undeclared": rep.Undeclared,
		"warnings":   rep.Warnings(),
	}, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: rep.Err() != nil,
	}, nil
}

// HandleVerify implements the tcrun/verify MCP tool.
func HandleVerify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logPath := req.GetString("log", "")
	if logPath == "" {
		return errorResult("log argument is required"), nil
	}
	plan, res := compileArgs(req)
	if res != nil {
		return res, nil
	}
	result, err := verify.VerifyFile(plan, logPath, verify.Options{Logs: execlog.DirLogs(filepath.Dir(logPath))})
	if err != nil {
		return errorResult(err.Error()), nil
	}

	data, _ := json.MarshalIndent(map[string]any{
		"summary": report.Summary(result),
		"result":  result,
	}, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: result.Verdict != verify.Pass,
	}, nil
}

// HandleSchema implements the tcrun/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		data []byte
		err  error
	)
	switch t := req.GetString("type", ""); t {
	case "testcase":
		data, err = kschema.GenerateTestCaseJSONSchema()
	case "log":
		data, err = execlog.PrettySchema()
	default:
		return errorResult(fmt.Sprintf("unknown schema type %q: use 'testcase' or 'log'", t)), nil
	}
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// compileArgs loads and compiles the document named by the path argument.
// A non-nil result is the error to return to the client.
func compileArgs(req mcp.CallToolRequest) (*compiler.Plan, *mcp.CallToolResult) {
	path := req.GetString("path", "")
	if path == "" {
		return nil, errorResult("path argument is required")
	}
	tc, err := kschema.LoadFile(path)
	if err != nil {
		return nil, errorResult(err.Error())
	}
	plan, _, err := compiler.Compile(tc, varsArg(req))
	if err != nil {
		return nil, errorResult(err.Error())
	}
	return plan, nil
}

func varsArg(req mcp.CallToolRequest) hydrate.Values {
	vals := hydrate.Values{}
	if raw, ok := req.GetArguments()["vars"].(map[string]any); ok {
		for k, v := range raw {
			vals[k] = fmt.Sprint(v)
		}
	}
	return vals
}

func formatErrors(errs []*kvalidate.ValidationError) string {
	var msgs []string
	for _, e := range kvalidate.Errors(errs) {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
