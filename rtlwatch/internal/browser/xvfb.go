package browser

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// xvfbReadyTimeout bounds the wait for the X socket to appear.
const xvfbReadyTimeout = 5 * time.Second

// displaySocket maps ":99" to the unix socket Xvfb creates for it.
func displaySocket(display string) string {
	num := strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(num, '.'); i >= 0 {
		num = num[:i]
	}
	return "/tmp/.X11-unix/X" + num
}

// startXvfb provides the virtual display used by headful mode. Some chat
// front-ends refuse headless user agents. A display that already answers
// is reused and left alone on shutdown.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}

	display := m.cfg.XvfbDisplay
	sock := displaySocket(display)
	if _, err := os.Stat(sock); err == nil {
		m.cfg.Logger.Info("browser: reusing display", "display", display)
		return nil
	}

	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}

	deadline := time.Now().Add(xvfbReadyTimeout)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			cmd.Process.Kill()
			cmd.Wait()
			return fmt.Errorf("xvfb: display %s not ready after %s", display, xvfbReadyTimeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
	m.xvfb = cmd

	m.cfg.Logger.Info("browser: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if p := m.xvfb.Process; p != nil {
		p.Kill()
		m.xvfb.Wait()
	}
	m.cfg.Logger.Info("browser: xvfb stopped", "display", m.cfg.XvfbDisplay)
	m.xvfb = nil
}
