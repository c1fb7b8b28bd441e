// Package browser runs speech recognition through a locally launched Chrome
// instance. A small HTTP server hands the browser a control page; the page
// connects back over a websocket, receives PCM audio, runs the Web Speech
// API on it, and streams transcripts back.
package browser

import (
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// Launch limits. A crashing browser is relaunched after [relaunchDelay];
// more than [launchBudget] attempts within [budgetWindow] means something is
// systematically wrong and the launcher gives up for good.
const (
	relaunchDelay = time.Second
	launchBudget  = 5
	budgetWindow  = 60 * time.Second
)

// launchArguments strips the browser down to a quiet kiosk for the control
// page. Mirrors the flag set Chrome automation tooling uses.
var launchArguments = []string{
	"--disable-background-networking",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-breakpad",
	"--disable-client-side-phishing-detection",
	"--disable-component-extensions-with-background-pages",
	"--disable-component-update",
	"--disable-default-apps",
	"--disable-dev-shm-usage",
	"--disable-extensions",
	"--disable-features=Translate,BackForwardCache,AcceptCHFrame,MediaRouter,OptimizationHints",
	"--disable-hang-monitor",
	"--disable-ipc-flooding-protection",
	"--disable-popup-blocking",
	"--disable-prompt-on-repost",
	"--disable-renderer-backgrounding",
	"--disable-sync",
	"--no-first-run",
	"--no-default-browser-check",
	"--hide-crash-restore-bubble",
	"--autoplay-policy=no-user-gesture-required",
	"--use-fake-ui-for-media-stream",
	"--window-size=300,300",
}

// Launcher keeps one browser process alive, relaunching it when it exits.
type Launcher struct {
	execPath string
	dataDir  string
	url      string
	onFatal  func(error)

	// Replaced in tests.
	run   func() error
	delay time.Duration

	mu         sync.Mutex
	attempts   int
	resetTimer *time.Timer
	cmd        *exec.Cmd
	stopped    bool
}

// NewLauncher creates a launcher for execPath pointed at url, with its
// profile under dataDir. onFatal fires once when the launch budget is
// exhausted; the launcher stays down afterwards.
func NewLauncher(execPath, dataDir, url string, onFatal func(error)) *Launcher {
	l := &Launcher{
		execPath: execPath,
		dataDir:  dataDir,
		url:      url,
		onFatal:  onFatal,
		delay:    relaunchDelay,
	}
	l.run = l.runProcess
	return l
}

// Start launches the browser and keeps it running until [Launcher.Stop].
func (l *Launcher) Start() {
	go l.loop()
}

// Stop ends the relaunch loop and kills the running process, if any.
func (l *Launcher) Stop() {
	l.mu.Lock()
	l.stopped = true
	if l.resetTimer != nil {
		l.resetTimer.Stop()
	}
	cmd := l.cmd
	l.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (l *Launcher) loop() {
	for {
		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			return
		}
		if l.resetTimer != nil {
			l.resetTimer.Stop()
		}
		l.attempts++
		if l.attempts > launchBudget {
			onFatal := l.onFatal
			l.mu.Unlock()
			slog.Error("browser keeps crashing, giving up", "url", l.url)
			if onFatal != nil {
				onFatal(fmt.Errorf("browser: %d launches within %s, not retrying", launchBudget, budgetWindow))
			}
			return
		}
		l.resetTimer = time.AfterFunc(budgetWindow, func() {
			l.mu.Lock()
			l.attempts = 0
			l.mu.Unlock()
		})
		l.mu.Unlock()

		if err := l.run(); err != nil {
			slog.Warn("browser exited", "err", err)
		}
		time.Sleep(l.delay)
	}
}

// runProcess starts the browser and blocks until it exits.
func (l *Launcher) runProcess() error {
	args := append(append([]string{}, launchArguments...), "--user-data-dir="+l.dataDir, l.url)
	cmd := exec.Command(l.execPath, args...)

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.cmd = cmd
	l.mu.Unlock()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("browser: launch %s: %w", l.execPath, err)
	}
	slog.Info("browser launched", "pid", cmd.Process.Pid, "url", l.url)
	return cmd.Wait()
}
