package browser

import (
	"fmt"
	"os/exec"
	"time"
)

// startXvfb runs a virtual display sized to the configured viewport.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	screen := fmt.Sprintf("%dx%dx24", m.cfg.ViewportWidth+200, m.cfg.ViewportHeight+200)
	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", screen, "-ac")
	if err := cmd.Start(); err != nil {
		return err
	}
	m.xvfb = cmd
	time.Sleep(500 * time.Millisecond)
	m.cfg.Logger.Info("browser: xvfb started", "display", m.cfg.XvfbDisplay, "screen", screen)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if m.xvfb.Process != nil {
		_ = m.xvfb.Process.Kill()
		_ = m.xvfb.Wait()
	}
	m.xvfb = nil
}
