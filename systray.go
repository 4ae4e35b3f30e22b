package main

import (
	"fmt"
	"log"
	"net"
	"os/exec"
	"runtime"
	"time"

	"fyne.io/systray"

	"github.com/dotside-studios/amiibo-agent/buildinfo"
)

// SystrayApp is the system tray interface around an Agent.
type SystrayApp struct {
	agent *Agent

	mStatus  *systray.MenuItem
	mState   *systray.MenuItem
	mKeys    *systray.MenuItem
	mURL     *systray.MenuItem
	mCopyURL *systray.MenuItem
	mStart   *systray.MenuItem
	mStop    *systray.MenuItem
	mQuit    *systray.MenuItem
}

// NewSystrayApp creates the tray application.
func NewSystrayApp(agent *Agent) *SystrayApp {
	return &SystrayApp{agent: agent}
}

// Run starts the tray loop and blocks until quit.
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

func (s *SystrayApp) onReady() {
	systray.SetIcon(iconData)
	systray.SetTitle(buildinfo.DisplayName)
	systray.SetTooltip(buildinfo.Description)

	s.mStatus = systray.AddMenuItem("Starting...", "Agent status")
	s.mStatus.Disable()
	s.mState = systray.AddMenuItem("Tag: none", "Emulated tag state")
	s.mState.Disable()
	s.mKeys = systray.AddMenuItem(s.keysTitle(), "Retail key status")
	s.mKeys.Disable()

	systray.AddSeparator()

	s.mURL = systray.AddMenuItem(s.serverURL(), "WebSocket endpoint")
	s.mURL.Disable()
	s.mCopyURL = systray.AddMenuItem("Copy WebSocket URL", "Copy the endpoint to the clipboard")

	systray.AddSeparator()

	s.mStart = systray.AddMenuItem("Start Agent", "Start the agent")
	s.mStop = systray.AddMenuItem("Stop Agent", "Stop the agent")
	s.mStart.Disable()
	s.mStop.Disable()

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit the application")

	go s.autoStart()
	go s.pollState()
	go s.handleEvents()
}

func (s *SystrayApp) onExit() {
	s.agent.Stop()
}

func (s *SystrayApp) keysTitle() string {
	if s.agent.Keys != nil {
		return "Keys: loaded"
	}
	return "Keys: missing (read-only)"
}

func (s *SystrayApp) serverURL() string {
	scheme := "ws"
	if s.agent.CertFile != "" && s.agent.KeyFile != "" {
		scheme = "wss"
	}
	host := "localhost"
	if ips := localIPs(); len(ips) > 0 {
		host = ips[0]
	}
	return fmt.Sprintf("%s://%s:%d/ws", scheme, host, s.agent.Port)
}

func (s *SystrayApp) autoStart() {
	if err := s.agent.Start(); err != nil {
		log.Printf("[systray] Failed to start agent: %v", err)
		s.mStatus.SetTitle("Failed to Start")
		s.mStart.Enable()
		return
	}
	s.mStatus.SetTitle("Running")
	s.mStop.Enable()
}

// pollState refreshes the tag state line twice a second.
func (s *SystrayApp) pollState() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	last := ""
	for range ticker.C {
		state := s.agent.StateString()
		if state == last {
			continue
		}
		if state == "" {
			s.mState.SetTitle("Tag: none")
		} else {
			s.mState.SetTitle("Tag: " + state)
		}
		last = state
	}
}

func (s *SystrayApp) handleEvents() {
	for {
		select {
		case <-s.mStart.ClickedCh:
			if err := s.agent.Start(); err != nil {
				log.Printf("[systray] Failed to start agent: %v", err)
				s.mStatus.SetTitle("Failed to Start")
				continue
			}
			s.mStatus.SetTitle("Running")
			s.mStart.Disable()
			s.mStop.Enable()
		case <-s.mStop.ClickedCh:
			s.agent.Stop()
			s.mStatus.SetTitle("Stopped")
			s.mStop.Disable()
			s.mStart.Enable()
		case <-s.mCopyURL.ClickedCh:
			if err := copyToClipboard(s.serverURL()); err != nil {
				log.Printf("[systray] Failed to copy to clipboard: %v", err)
			} else {
				log.Printf("[systray] Copied WebSocket URL to clipboard")
			}
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// localIPs returns the machine's non-loopback IPv4 addresses.
func localIPs() []string {
	var ips []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			ips = append(ips, ipNet.IP.String())
		}
	}
	return ips
}

// copyToClipboard copies text to the system clipboard.
func copyToClipboard(text string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Wait()
}
