package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/service"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	descQuery = "Run a read-only SQL query generated for a natural-language question and return the rows " +
		"as JSON. Every call counts against a per-client and a global daily quota. " +
		"Only a single SELECT statement (optionally with read-only CTEs) passes validation. " +
		"Multiple statements, data-modifying CTEs, comments, UNION-based probes and deeply nested subqueries " +
		"are rejected. " +
		"A generator that cannot answer should send its message prefixed with \"ERROR:\" instead of SQL."

	descQuerySQL      = "The SQL to run (SELECT only)"
	descQueryQuestion = "The natural-language question the SQL answers, recorded in the audit log"

	descRemainingQuota = "Report how many requests this client and all clients together may still make today."
)

func RegisterTools(s *server.MCPServer, query *service.QueryService) {
	s.AddTool(
		mcp.NewTool("query",
			mcp.WithDescription(descQuery),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description(descQuerySQL),
			),
			mcp.WithString("question",
				mcp.Description(descQueryQuestion),
			),
		),
		queryHandler(query),
	)

	s.AddTool(
		mcp.NewTool("remaining_quota",
			mcp.WithDescription(descRemainingQuota),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		remainingQuotaHandler(query),
	)
}

func queryHandler(query *service.QueryService) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql := request.GetString("sql", "")
		if sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		ctx = service.WithToolName(ctx, "query")
		resp, err := query.Run(ctx, service.Request{
			Identity: identityFromCtx(ctx),
			Question: request.GetString("question", ""),
			SQL:      sql,
		})

		data, mErr := json.Marshal(resp)
		if mErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", mErr)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(string(data)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func remainingQuotaHandler(query *service.QueryService) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		remaining, err := query.Remaining(ctx, identityFromCtx(ctx))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read quota: %v", err)), nil
		}

		data, err := json.Marshal(map[string]service.RemainingRequests{"remaining_requests": remaining})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}
