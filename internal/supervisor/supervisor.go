// Package supervisor implements the parent process that gates on
// configuration completeness, spawns the agent process as a child,
// applies crash-restart with backoff, and watches the restart-request
// flag file. Adapted from the teacher's internal/daemon lifecycle
// idiom (health loop, graceful shutdown, signal handling), applied to
// OS-process supervision instead of in-process Component management.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sorrel-ai/hearth/internal/config"
)

const restartFlagName = ".restart_requested"

// OnboardExitCode documents the onboarding subprocess's exit-code
// contract (spec §4.8 step 3).
type OnboardExitCode int

const (
	OnboardSuccess      OnboardExitCode = 0
	OnboardUserCancelled OnboardExitCode = 1
	OnboardRetry        OnboardExitCode = 2
)

// Options configures a Supervisor.
type Options struct {
	SandboxDir    string
	AgentCommand  []string // argv[0] + args for the agent process
	OnboardCommand []string // optional; empty means "treat unconfigured as fatal"
	MaxRestarts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = 10
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
	return o
}

// Supervisor never holds the LLM, the router, or any extension state
// (spec invariant) — it only ever shells out to the agent binary and
// watches its exit code plus the restart-flag file.
type Supervisor struct {
	opts Options

	shutdownOnce chan struct{}
}

// New builds a Supervisor over opts.
func New(opts Options) *Supervisor {
	return &Supervisor{
		opts:         opts.withDefaults(),
		shutdownOnce: make(chan struct{}),
	}
}

// RequestRestart is called by the agent process's own extension.Host
// wiring (out of process, via IPC in a real deployment) or, in this
// single-process test harness, directly — it writes the restart-flag
// file that runAgentOnce polls for while the agent child runs.
func (s *Supervisor) RequestRestart(reason string) {
	slog.Info("supervisor restart requested", "reason", reason)
	_ = os.WriteFile(filepath.Join(s.opts.SandboxDir, restartFlagName), []byte(reason), 0o644)
}

// RequestShutdown stops the supervisor loop entirely (no further
// respawns).
func (s *Supervisor) RequestShutdown(reason string) {
	slog.Info("supervisor shutdown requested", "reason", reason)
	select {
	case <-s.shutdownOnce:
	default:
		close(s.shutdownOnce)
	}
}

// Run executes the supervisor state machine until ctx is cancelled, a
// signal is received, max-restarts is exceeded, or onboarding reports
// user cancellation. The returned exit code follows spec §6's
// Supervisor exit-code table.
func (s *Supervisor) Run(ctx context.Context) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	consecutiveCrashes := 0

	for {
		select {
		case <-ctx.Done():
			return 0
		case <-s.shutdownOnce:
			return 0
		default:
		}

		s.clearRestartFlag()

		ok, reason := s.isConfigured()
		if !ok {
			code, err := s.runOnboarding(ctx, reason)
			if err != nil {
				slog.Error("onboarding subprocess failed", "error", err)
				return 1
			}
			switch OnboardExitCode(code) {
			case OnboardSuccess, OnboardRetry:
				continue
			case OnboardUserCancelled:
				return 0
			default:
				slog.Warn("onboarding exited with unexpected code", "code", code)
				continue
			}
		}

		exitCode, restarted, err := s.runAgentOnce(ctx)
		if err != nil {
			slog.Error("failed to run agent process", "error", err)
			return 1
		}

		if restarted {
			consecutiveCrashes = 0
			continue
		}
		if exitCode == 0 {
			consecutiveCrashes = 0
			continue
		}

		consecutiveCrashes++
		slog.Warn("agent process crashed", "exit_code", exitCode, "consecutive_crashes", consecutiveCrashes)
		if consecutiveCrashes > s.opts.MaxRestarts {
			slog.Error("max restarts exceeded", "max_restarts", s.opts.MaxRestarts)
			return 1
		}

		backoff := s.backoffFor(consecutiveCrashes)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return 0
		}
	}
}

func (s *Supervisor) backoffFor(attempt int) time.Duration {
	d := s.opts.BaseBackoff * time.Duration(1<<uint(attempt-1))
	if d > s.opts.MaxBackoff || d <= 0 {
		d = s.opts.MaxBackoff
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

func (s *Supervisor) clearRestartFlag() {
	path := filepath.Join(s.opts.SandboxDir, restartFlagName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to clear restart flag", "error", err)
	}
}

func (s *Supervisor) restartFlagPresent() bool {
	_, err := os.Stat(filepath.Join(s.opts.SandboxDir, restartFlagName))
	return err == nil
}

// isConfigured implements spec §4.8 step 2: settings.yaml exists and
// parses, at least one provider is configured, every configured
// provider either has a literal key or a resolvable secret, and
// models.default names an entry of models.registry.
func (s *Supervisor) isConfigured() (bool, string) {
	settingsPath := filepath.Join(s.opts.SandboxDir, "config", "settings.yaml")
	if _, err := os.Stat(settingsPath); err != nil {
		return false, fmt.Sprintf("config/settings.yaml missing: %v", err)
	}

	cfg, err := config.Load(nil)
	if err != nil {
		return false, fmt.Sprintf("config parse error: %v", err)
	}

	if len(cfg.Models.Registry) == 0 {
		return false, "no provider configured"
	}

	for _, m := range cfg.Models.Registry {
		if m.APIKey == "" && m.AuthFile == "" && strings.ToLower(m.Provider) != "ollama" {
			return false, fmt.Sprintf("provider %s has no resolvable credential", m.Name)
		}
	}

	if cfg.Models.Default == "" {
		return false, "agents.default / models.default is unset"
	}
	found := false
	for _, m := range cfg.Models.Registry {
		if m.Name == cfg.Models.Default {
			found = true
			break
		}
	}
	if !found {
		return false, fmt.Sprintf("default model %q is not a configured provider", cfg.Models.Default)
	}

	return true, ""
}

func (s *Supervisor) runOnboarding(ctx context.Context, reason string) (int, error) {
	if len(s.opts.OnboardCommand) == 0 {
		slog.Error("agent unconfigured and no onboarding command set", "reason", reason)
		return 0, errors.New("not configured: " + reason)
	}

	cmd := exec.CommandContext(ctx, s.opts.OnboardCommand[0], s.opts.OnboardCommand[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 0, err
	}
	return 0, nil
}

// runAgentOnce spawns the agent process once and waits for either its
// exit or the restart-flag file to appear, whichever comes first.
func (s *Supervisor) runAgentOnce(ctx context.Context) (exitCode int, restarted bool, err error) {
	if len(s.opts.AgentCommand) == 0 {
		return 0, false, errors.New("agent command not configured")
	}

	cmd := exec.CommandContext(ctx, s.opts.AgentCommand[0], s.opts.AgentCommand[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return 0, false, fmt.Errorf("start agent process: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	pollTicker := time.NewTicker(500 * time.Millisecond)
	defer pollTicker.Stop()

	for {
		select {
		case waitErr := <-waitCh:
			if waitErr == nil {
				return 0, false, nil
			}
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				return exitErr.ExitCode(), false, nil
			}
			return -1, false, waitErr

		case <-pollTicker.C:
			if s.restartFlagPresent() {
				_ = cmd.Process.Signal(syscall.SIGTERM)
				select {
				case <-waitCh:
				case <-time.After(10 * time.Second):
					_ = cmd.Process.Kill()
					<-waitCh
				}
				s.clearRestartFlag()
				return 0, true, nil
			}

		case <-ctx.Done():
			_ = cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-waitCh:
			case <-time.After(10 * time.Second):
				_ = cmd.Process.Kill()
				<-waitCh
			}
			return 0, false, nil
		}
	}
}
