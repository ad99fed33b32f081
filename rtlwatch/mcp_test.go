package rtlwatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/rtlfix/rtlwatch/rtl"
)

func connectMCP(t *testing.T, w *Watcher) *mcp.ClientSession {
	t.Helper()
	impl := &mcp.Implementation{Name: "rtlwatch-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	w.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, s *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatal(err)
	}
	if out != nil && !res.IsError {
		text := res.Content[0].(*mcp.TextContent).Text
		if err := json.Unmarshal([]byte(text), out); err != nil {
			t.Fatalf("%s: %v: %s", name, err, text)
		}
	}
	return res
}

func TestMCPTools(t *testing.T) {
	w := newTestWatcher(t)
	s := connectMCP(t, w)

	var det detectResponse
	if res := callTool(t, s, "rtl_detect", map[string]any{"text": "مرحبا"}, &det); res.IsError || !det.RTL {
		t.Errorf("rtl_detect = %+v %+v", res, det)
	}

	var prefs rtl.Preferences
	if res := callTool(t, s, "rtl_update_settings", map[string]any{"fontSize": "24"}, &prefs); res.IsError {
		t.Fatalf("rtl_update_settings: %+v", res)
	}
	if prefs.FontSize != 24 || w.Preferences().FontSize != 24 {
		t.Errorf("prefs = %+v", prefs)
	}

	if res := callTool(t, s, "rtl_update_settings", map[string]any{"lineHeight": "tall"}, nil); !res.IsError {
		t.Error("invalid value accepted")
	}

	var ann annotateResponse
	if res := callTool(t, s, "rtl_annotate_html", map[string]any{"html": "<h2>عنوان</h2>"}, &ann); res.IsError {
		t.Fatalf("rtl_annotate_html: %+v", res)
	}
	if len(ann.Marks) != 1 || ann.Marks[0].Tag != "h2" {
		t.Errorf("marks = %+v", ann.Marks)
	}

	var st Stats
	if res := callTool(t, s, "rtl_stats", map[string]any{}, &st); res.IsError {
		t.Fatalf("rtl_stats: %+v", res)
	}
	if st.Annotated != 1 || st.Preferences.FontSize != 24 {
		t.Errorf("stats = %+v", st)
	}
}
