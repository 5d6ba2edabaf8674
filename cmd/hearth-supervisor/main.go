// Command hearth-supervisor is the parent process described in spec
// §4.8: it never holds the LLM, the router, or extension state — it
// only gates on configuration, spawns `hearth daemon` as a child, and
// applies crash-restart with backoff.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sorrel-ai/hearth/internal/logger"
	"github.com/sorrel-ai/hearth/internal/supervisor"
)

func main() {
	sandboxDir := flag.String("sandbox", defaultSandboxDir(), "sandbox root directory")
	agentBinary := flag.String("agent-binary", "hearth", "path to the agent process binary")
	onboardBinary := flag.String("onboard-binary", "", "optional onboarding subprocess binary")
	maxRestarts := flag.Int("max-restarts", 10, "maximum consecutive crash-restarts before exiting")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger.Setup(*logLevel)

	agentCommand := []string{*agentBinary, "daemon", "--config", sandboxConfigPath(*sandboxDir)}
	var onboardCommand []string
	if *onboardBinary != "" {
		onboardCommand = []string{*onboardBinary}
	}

	sup := supervisor.New(supervisor.Options{
		SandboxDir:     *sandboxDir,
		AgentCommand:   agentCommand,
		OnboardCommand: onboardCommand,
		MaxRestarts:    *maxRestarts,
	})

	code := sup.Run(context.Background())
	os.Exit(code)
}

func defaultSandboxDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hearth"
	}
	return home + "/.hearth"
}

func sandboxConfigPath(sandboxDir string) string {
	return fmt.Sprintf("%s/config/settings.yaml", sandboxDir)
}
