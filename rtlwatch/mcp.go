package rtlwatch

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/rtlfix/kit"
	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

// RegisterMCP exposes the watcher as MCP tools.
func (w *Watcher) RegisterMCP(srv *mcp.Server) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "rtl_detect",
		Description: "Report whether text contains Persian or Arabic script.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
	}, w.mcpEndpoint("rtl_detect", w.detectEndpoint()), kit.DecodeArgs[detectRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "rtl_annotate_html",
		Description: "Mark the RTL elements of an HTML document and apply the current font size and line height. Returns sanitised HTML and the marked elements.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"html": map[string]any{"type": "string"},
			},
			"required": []string{"html"},
		},
	}, w.mcpEndpoint("rtl_annotate_html", w.annotateEndpoint()), kit.DecodeArgs[annotateRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "rtl_update_settings",
		Description: "Change the font size (px) and line height applied to RTL text on every observed page. Omitted or zero values are left unchanged.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fontSize":   map[string]any{"type": []string{"number", "string"}},
				"lineHeight": map[string]any{"type": []string{"number", "string"}},
			},
		},
	}, w.mcpEndpoint("rtl_update_settings", w.updateSettingsEndpoint()), decodeUpdate)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "rtl_stats",
		Description: "Counters for every observed page, the static annotation path and the current preferences.",
		InputSchema: map[string]any{"type": "object"},
	}, w.mcpEndpoint("rtl_stats", w.statsEndpoint()), kit.DecodeArgs[struct{}]())
}

func (w *Watcher) mcpEndpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Logging(w.logger, name)(ep)
}

func decodeUpdate(req *mcp.CallToolRequest) (any, error) {
	if len(req.Params.Arguments) == 0 {
		return rtl.Update{}, nil
	}
	return rtl.ParseUpdate(req.Params.Arguments)
}
