package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/quill/internal/compose"
	"github.com/kalambet/quill/internal/pipeline"
)

// NewMCPServer creates an MCP server exposing the drafting pipeline to
// agent hosts over stdio.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"quill",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("quill: persona-calibrated document drafting over a local knowledge base."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("compile_instruction",
			mcp.WithDescription("Compile the system instruction for a persona, blending personality, knowledge sources, and document context."),
			mcp.WithString("persona_id", mcp.Description("Persona to compile for"), mcp.Required()),
			mcp.WithArray("source_ids", mcp.Description("Knowledge source ids to include (default: all)")),
			mcp.WithString("current_doc", mcp.Description("Current document content, if any")),
		),
		mcpCompileInstruction(deps),
	)

	s.AddTool(
		mcp.NewTool("find_pathways",
			mcp.WithDescription("Find content pathways in the knowledge sources relevant to a task (relevance above 30 on a 0-100 scale)."),
			mcp.WithString("task", mcp.Description("Task or query to match pathways against"), mcp.Required()),
			mcp.WithArray("source_ids", mcp.Description("Knowledge source ids to search (default: all)")),
		),
		mcpFindPathways(deps),
	)

	s.AddTool(
		mcp.NewTool("draft_document",
			mcp.WithDescription("Draft document content in a persona's voice and record a document snapshot."),
			mcp.WithString("persona_id", mcp.Description("Persona to write as"), mcp.Required()),
			mcp.WithString("task", mcp.Description("What to write"), mcp.Required()),
			mcp.WithArray("source_ids", mcp.Description("Knowledge source ids to draw on (default: all)")),
			mcp.WithString("current_doc", mcp.Description("Current document content, if any")),
		),
		mcpDraftDocument(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"quill://personas",
			"Personas",
			mcp.WithResourceDescription("All personas with their calibration status"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePersonas(deps),
	)

	return s
}

func mcpCompileInstruction(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		personaID, err := req.RequireString("persona_id")
		if err != nil {
			return mcpError("persona_id is required"), nil
		}

		p, err := deps.Personas.Get(personaID)
		if err != nil {
			return mcpError(fmt.Sprintf("loading persona: %v", err)), nil
		}
		knowledge, err := loadSources(deps.Store, req.GetStringSlice("source_ids", nil))
		if err != nil {
			return mcpError(fmt.Sprintf("loading sources: %v", err)), nil
		}

		instruction := compose.Instruction(p, knowledge, req.GetString("current_doc", ""))
		return mcpText(instruction), nil
	}
}

func mcpFindPathways(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		task, err := req.RequireString("task")
		if err != nil {
			return mcpError("task is required"), nil
		}

		sources, err := loadSources(deps.Store, req.GetStringSlice("source_ids", nil))
		if err != nil {
			return mcpError(fmt.Sprintf("loading sources: %v", err)), nil
		}

		refs, err := deps.Pathways.FindRelevant(ctx, sources, task)
		if err != nil {
			return mcpError(fmt.Sprintf("pathway search failed: %v", err)), nil
		}
		if len(refs) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(refs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal pathways: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDraftDocument(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		personaID, err := req.RequireString("persona_id")
		if err != nil {
			return mcpError("persona_id is required"), nil
		}
		task, err := req.RequireString("task")
		if err != nil {
			return mcpError("task is required"), nil
		}

		p, err := deps.Personas.Get(personaID)
		if err != nil {
			return mcpError(fmt.Sprintf("loading persona: %v", err)), nil
		}
		knowledge, err := loadSources(deps.Store, req.GetStringSlice("source_ids", nil))
		if err != nil {
			return mcpError(fmt.Sprintf("loading sources: %v", err)), nil
		}

		res, err := deps.Drafter.Draft(ctx, p, pipeline.Request{
			Task:       task,
			Knowledge:  knowledge,
			CurrentDoc: req.GetString("current_doc", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("draft failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"editId":  res.EditID,
			"version": res.Version,
			"content": res.Content,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal draft: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourcePersonas(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		personas, err := deps.Personas.List()
		if err != nil {
			return nil, fmt.Errorf("failed to list personas: %w", err)
		}

		type personaSummary struct {
			ID                string `json:"id"`
			Name              string `json:"name"`
			Role              string `json:"role"`
			CalibrationStatus string `json:"calibrationStatus"`
			Snapshots         int    `json:"snapshots"`
		}

		summaries := make([]personaSummary, len(personas))
		for i, p := range personas {
			summaries[i] = personaSummary{
				ID:                p.ID,
				Name:              p.DisplayName(),
				Role:              p.Role,
				CalibrationStatus: string(p.CalibrationStatus),
				Snapshots:         len(p.Snapshots),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal personas: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
