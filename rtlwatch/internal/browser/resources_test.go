package browser

import "testing"

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true, "stylesheets": true, "websocket": true}
	cases := []struct {
		typ  string
		want bool
	}{
		{"Image", true},
		{"Font", true},
		{"Media", false},
		{"Stylesheet", false},
		{"WebSocket", true},
		{"Document", false},
	}
	for _, tc := range cases {
		if got := shouldBlock(set, tc.typ); got != tc.want {
			t.Errorf("shouldBlock(%q) = %v, want %v", tc.typ, got, tc.want)
		}
	}
}

func TestModeString(t *testing.T) {
	if ModeHeadful.String() != "headful" || ModeHTTP.String() != "http" {
		t.Error("unexpected mode names")
	}
	if Mode(7).String() != "mode(7)" {
		t.Errorf("unknown mode: %s", Mode(7))
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.Mode != ModeHeadless || c.MemoryLimit != 1<<30 || c.XvfbDisplay != ":99" || c.Logger == nil {
		t.Errorf("defaults: %+v", c)
	}
}

func TestDisplaySocket(t *testing.T) {
	for display, want := range map[string]string{
		":99":  "/tmp/.X11-unix/X99",
		":0.0": "/tmp/.X11-unix/X0",
		"1":    "/tmp/.X11-unix/X1",
	} {
		if got := displaySocket(display); got != want {
			t.Errorf("displaySocket(%q) = %q, want %q", display, got, want)
		}
	}
}
