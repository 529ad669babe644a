package lazyreveal

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/lazyreveal/htmldoc"
	"github.com/hazyhaar/lazyreveal/lazyreveal/internal/mcptool"
)

// RegisterMCP registers the runner tools on an MCP server.
func (r *Runner) RegisterMCP(srv *mcp.Server) {
	r.registerPlanTool(srv)
	r.registerApplyTool(srv)
	r.registerBatchesTool(srv)
	r.registerDestroyTool(srv)
}

var jobSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"id":          map[string]any{"type": "string"},
		"kind":        map[string]any{"type": "string", "enum": []any{"image", "video", "exec"}},
		"selector":    map[string]any{"type": "string", "description": "CSS selector of the elements to watch"},
		"src_target":  map[string]any{"type": "string", "description": "Descendant selector receiving the path"},
		"attr":        map[string]any{"type": "string", "description": "Attribute to write instead of the source"},
		"images":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"videos":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"load_before": map[string]any{"type": "number", "minimum": 0},
		"load_after":  map[string]any{"type": "array", "items": map[string]any{"type": "number"}},
	},
	"required": []string{"selector"},
}

// --- plan ---

type planRequest struct {
	PageID string    `json:"page_id,omitempty"`
	HTML   string    `json:"html,omitempty"`
	Job    JobConfig `json:"job"`
}

func (r *Runner) registerPlanTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lazyreveal_plan",
		Description: "Dry run: list which path each element matched by a media job would receive. Works on an attached page or on raw HTML.",
		InputSchema: mcptool.Schema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Attached page to plan against"},
			"html":    map[string]any{"type": "string", "description": "Raw HTML to plan against instead of a page"},
			"job":     jobSchema,
		}, "job"),
	}
	mcptool.Register(srv, tool, func(_ context.Context, req planRequest) (any, error) {
		if req.HTML != "" {
			doc, err := htmldoc.ParseString(req.HTML)
			if err != nil {
				return nil, err
			}
			return PlanDocument(doc, req.Job)
		}
		p, err := r.Page(req.PageID)
		if err != nil {
			return nil, err
		}
		return p.Plan(req.Job)
	})
}

// --- apply ---

type applyRequest struct {
	PageID  string    `json:"page_id"`
	Job     JobConfig `json:"job"`
	Persist bool      `json:"persist,omitempty"`
}

func (r *Runner) registerApplyTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lazyreveal_apply",
		Description: "Start a reveal job on an attached page. Returns the batch.",
		InputSchema: mcptool.Schema(map[string]any{
			"page_id": map[string]any{"type": "string"},
			"job":     jobSchema,
			"persist": map[string]any{"type": "boolean", "description": "Also store the job in reveal_jobs"},
		}, "page_id", "job"),
	}
	mcptool.Register(srv, tool, func(ctx context.Context, req applyRequest) (any, error) {
		b, err := r.ApplyJob(ctx, req.PageID, req.Job)
		if err != nil {
			return nil, err
		}
		if req.Persist {
			if err := r.SaveJob(ctx, req.PageID, req.Job); err != nil {
				return nil, err
			}
		}
		return b.Info(), nil
	})
}

// --- batches ---

type batchesRequest struct {
	PageID string `json:"page_id,omitempty"`
}

func (r *Runner) registerBatchesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lazyreveal_batches",
		Description: "List outstanding batches. Without page_id, lists every page.",
		InputSchema: mcptool.Schema(map[string]any{
			"page_id": map[string]any{"type": "string"},
		}),
	}
	mcptool.Register(srv, tool, func(_ context.Context, req batchesRequest) (any, error) {
		if req.PageID == "" {
			return r.Pages(), nil
		}
		p, err := r.Page(req.PageID)
		if err != nil {
			return nil, err
		}
		return p.Batches(), nil
	})
}

// --- destroy ---

type destroyRequest struct {
	PageID string `json:"page_id"`
}

func (r *Runner) registerDestroyTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lazyreveal_destroy",
		Description: "Disconnect every batch of a page.",
		InputSchema: mcptool.Schema(map[string]any{
			"page_id": map[string]any{"type": "string"},
		}, "page_id"),
	}
	mcptool.Register(srv, tool, func(_ context.Context, req destroyRequest) (any, error) {
		if err := r.Destroy(req.PageID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "destroyed", "page_id": req.PageID}, nil
	})
}
