package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/ragchat/internal/ai"
	"github.com/xxxsen/ragchat/internal/service"
)

const noPassagesFound = "No relevant passages found in the user's files."

// Tool is one callable the model may use. The set is closed: tools are
// registered at startup and looked up by name.
type Tool interface {
	Spec() ai.ToolSpec
	Call(ctx context.Context, userID string, args map[string]interface{}) (string, error)
}

type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Spec().Name
		if _, ok := r.tools[name]; !ok {
			r.order = append(r.order, name)
		}
		r.tools[name] = t
	}
	return r
}

func (r *ToolRegistry) Specs() []ai.ToolSpec {
	if r == nil {
		return nil
	}
	specs := make([]ai.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Call runs a tool call. Failures become the tool output so the model can
// react to them.
func (r *ToolRegistry) Call(ctx context.Context, userID string, call ai.ToolCall) string {
	if r == nil {
		return "error: tools are disabled"
	}
	tool, ok := r.tools[call.Name]
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
	args, err := call.ArgumentsMap()
	if err != nil {
		return fmt.Sprintf("error: invalid arguments: %v", err)
	}
	out, err := tool.Call(ctx, userID, args)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return out
}

// SearchFilesTool lets the model run its own retrieval query over the
// user's files.
type SearchFilesTool struct {
	retriever Retriever
	topK      int
}

func NewSearchFilesTool(retriever Retriever, topK int) *SearchFilesTool {
	return &SearchFilesTool{retriever: retriever, topK: topK}
}

func (t *SearchFilesTool) Spec() ai.ToolSpec {
	return ai.ToolSpec{
		Name:        "search_files",
		Description: "Search the user's uploaded files and return the most relevant passages.",
		Params: []ai.ToolParam{
			{Name: "query", Type: "string", Description: "What to look for.", Required: true},
		},
	}
}

func (t *SearchFilesTool) Call(ctx context.Context, userID string, args map[string]interface{}) (string, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	rendered := service.RenderContext(t.retriever.Retrieve(ctx, query, userID, t.topK))
	if rendered == "" {
		return noPassagesFound, nil
	}
	return rendered, nil
}
