package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ToolCaller executes one tool call and returns structured content.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// CallToolResult is the MCP tools/call result.
type CallToolResult struct {
	Content           []ContentBlock `json:"content"`
	IsError           bool           `json:"isError"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`

	err error
}

// ContentBlock is one MCP content item.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// StatusCode returns the HTTP-style status of the execution.
func (r CallToolResult) StatusCode() int {
	if !r.IsError {
		return http.StatusOK
	}
	return toolErrorStatus(r.err)
}

type statusCoder interface {
	StatusCode() int
}

func toolErrorStatus(err error) int {
	var withStatus statusCoder
	if err != nil && errors.As(err, &withStatus) {
		status := withStatus.StatusCode()
		if status >= 400 && status <= 599 {
			return status
		}
	}
	return http.StatusInternalServerError
}

func toolErrorMessage(err error) string {
	if err == nil {
		return "unknown tool execution error"
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return "unknown tool execution error"
	}
	return message
}

func toolCallResultAccepted(name, mode string) CallToolResult {
	return CallToolResult{
		Content: []ContentBlock{
			{
				Type: "text",
				Text: fmt.Sprintf("tool %s accepted (no caller configured)", name),
			},
		},
		StructuredContent: map[string]any{
			"tool":   name,
			"mode":   mode,
			"status": "accepted",
		},
	}
}

func toolCallResultFromExecution(name, mode string, payload map[string]any) CallToolResult {
	return CallToolResult{
		Content: []ContentBlock{
			{
				Type: "text",
				Text: fmt.Sprintf("tool %s executed", name),
			},
		},
		IsError: false,
		StructuredContent: map[string]any{
			"tool":   name,
			"mode":   mode,
			"status": "ok",
			"result": payload,
		},
	}
}

func toolCallResultFromError(name, mode string, err error) CallToolResult {
	return CallToolResult{
		Content: []ContentBlock{
			{
				Type: "text",
				Text: toolErrorMessage(err),
			},
		},
		IsError: true,
		StructuredContent: map[string]any{
			"tool":   name,
			"mode":   mode,
			"status": "error",
			"error": map[string]any{
				"status":  toolErrorStatus(err),
				"message": toolErrorMessage(err),
			},
		},
		err: err,
	}
}
