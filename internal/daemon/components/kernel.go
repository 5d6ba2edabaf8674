package components

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sorrel-ai/hearth/internal/config"
	"github.com/sorrel-ai/hearth/internal/coretools"
	"github.com/sorrel-ai/hearth/internal/daemon"
	"github.com/sorrel-ai/hearth/internal/eventbus"
	"github.com/sorrel-ai/hearth/internal/extension"
	"github.com/sorrel-ai/hearth/internal/kernelhost"
	"github.com/sorrel-ai/hearth/internal/modelrouter"
	"github.com/sorrel-ai/hearth/internal/router"
	"github.com/sorrel-ai/hearth/internal/taskengine"
	"github.com/sorrel-ai/hearth/internal/tool"
	_ "github.com/sorrel-ai/hearth/internal/tool/builtin"
)

// KernelComponent wires the nano-kernel pieces — event bus, task
// engine, agent model router, message router, and extension loader —
// into the daemon's lifecycle. It owns no domain logic of its own; it
// is assembly.
type KernelComponent struct {
	cfg           *config.Config
	workspacePath string
	supervisor    kernelhost.SupervisorNotifier

	mu       sync.RWMutex
	bus      *eventbus.Bus
	engine   *taskengine.Engine
	models   *modelrouter.Router
	msgs     *router.Router
	loader   *extension.Loader
	registry *tool.Registry
	channels *coretools.ChannelRegistry

	startTime time.Time
}

func NewKernelComponent(cfg *config.Config, workspacePath string, supervisor kernelhost.SupervisorNotifier) *KernelComponent {
	return &KernelComponent{cfg: cfg, workspacePath: workspacePath, supervisor: supervisor}
}

func (k *KernelComponent) Name() string           { return "Kernel" }
func (k *KernelComponent) Dependencies() []string { return nil }

func (k *KernelComponent) Init(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	dataRoot := filepath.Join(k.workspacePath, "data")
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	busPath := filepath.Join(dataRoot, "event_bus.sqlite")
	bus, err := eventbus.Open(busPath)
	if err != nil {
		return fmt.Errorf("open event bus: %w", err)
	}

	models, err := modelrouter.New(*k.cfg)
	if err != nil {
		return fmt.Errorf("init model router: %w", err)
	}

	taskPath := filepath.Join(dataRoot, "task_engine.sqlite")
	leaseDuration, _ := config.DurationOrDefault(k.cfg.TaskEngine.LeaseDuration, config.DefaultTaskEngineLeaseDuration)
	pollInterval, _ := config.DurationOrDefault(k.cfg.TaskEngine.PollInterval, config.DefaultTaskEnginePollInterval)
	baseBackoff, _ := config.DurationOrDefault(k.cfg.TaskEngine.BaseBackoff, config.DefaultTaskEngineBaseBackoff)
	maxBackoff, _ := config.DurationOrDefault(k.cfg.TaskEngine.MaxBackoff, config.DefaultTaskEngineMaxBackoff)
	maxConcurrent := k.cfg.TaskEngine.MaxConcurrentTasks
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultTaskEngineMaxConcurrentTasks
	}

	engine, err := taskengine.Open(taskPath, taskengine.NewAgentExecutor(models), taskengine.Options{
		LeaseDuration: leaseDuration,
		PollInterval:  pollInterval,
		BaseBackoff:   baseBackoff,
		MaxBackoff:    maxBackoff,
		MaxConcurrent: maxConcurrent,
	})
	if err != nil {
		_ = bus.Stop(ctx)
		return fmt.Errorf("open task engine: %w", err)
	}

	sessionTimeout, _ := config.DurationOrDefault(fmt.Sprintf("%ds", k.cfg.Session.TimeoutSec), "15m")
	defaultAgent := "default"
	if len(k.cfg.Agents.Registry) > 0 {
		defaultAgent = k.cfg.Agents.Registry[0].ID
	}
	msgs := router.New(models, defaultAgent, sessionTimeout)

	extensionsRoot := filepath.Join(k.workspacePath, "extensions")
	secretsPath := filepath.Join(k.workspacePath, "kernel", "secrets.json")

	loader := extension.NewLoader(extensionsRoot, nil)
	host := kernelhost.New(bus, msgs, loader, k.supervisor, dataRoot, secretsPath, k.cfg.Extensions)
	loader.SetHost(host)

	registry := tool.NewRegistry()
	channels := coretools.NewChannelRegistry()
	registry.Register(coretools.NewListChannelsTool(channels))
	registry.Register(coretools.NewSendToChannelTool(channels, msgs))
	registry.Register(coretools.NewRequestSecureInputTool(bus))
	registry.Register(coretools.NewSubmitTaskTool(engine))
	registry.Register(coretools.NewGetTaskStatusTool(engine))
	registry.Register(coretools.NewListActiveTasksTool(engine))
	registry.Register(coretools.NewCancelTaskTool(engine))
	registry.Register(coretools.NewRequestHumanReviewTool(engine))
	registry.Register(coretools.NewRespondToReviewTool(engine))

	builtins, err := tool.InstantiateBuiltins(builtinOptionsFrom(k.cfg.Tools))
	if err != nil {
		_ = engine.Stop(ctx)
		_ = bus.Stop(ctx)
		return fmt.Errorf("instantiate built-in tools: %w", err)
	}
	for _, t := range builtins {
		registry.Register(t)
	}

	k.bus = bus
	k.engine = engine
	k.models = models
	k.msgs = msgs
	k.loader = loader
	k.registry = registry
	k.channels = channels

	if err := loader.Discover(); err != nil {
		slog.Warn("extension discovery found no usable manifests", "error", err, "root", extensionsRoot)
	}

	slog.Info("Kernel initialized", "component", k.Name())
	return nil
}

func (k *KernelComponent) Start(ctx context.Context) error {
	k.mu.RLock()
	bus, engine, loader, msgs, channels := k.bus, k.engine, k.loader, k.msgs, k.channels
	k.mu.RUnlock()

	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start task engine: %w", err)
	}
	if err := loader.InitializeAll(ctx); err != nil {
		return fmt.Errorf("initialize extensions: %w", err)
	}

	caps := loader.DetectAndWire()
	for id, ch := range caps.Channels {
		msgs.RegisterChannel(id, ch)
		channels.Register(id, fmt.Sprintf("extension channel %q", id))
	}

	if err := loader.StartAll(ctx); err != nil {
		return fmt.Errorf("start extensions: %w", err)
	}

	k.mu.Lock()
	k.startTime = time.Now()
	k.mu.Unlock()

	slog.Info("Kernel started", "component", k.Name())
	return nil
}

func (k *KernelComponent) Stop(ctx context.Context) error {
	k.mu.RLock()
	bus, engine, loader := k.bus, k.engine, k.loader
	k.mu.RUnlock()

	if loader != nil {
		loader.StopAll(ctx)
	}
	if engine != nil {
		_ = engine.Stop(ctx)
	}
	if bus != nil {
		_ = bus.Stop(ctx)
	}
	slog.Info("Kernel stopped", "component", k.Name())
	return nil
}

func (k *KernelComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.bus == nil || k.engine == nil {
		return &daemon.ComponentHealth{Name: k.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	return &daemon.ComponentHealth{Name: k.Name(), Healthy: true}, nil
}

func (k *KernelComponent) Bus() *eventbus.Bus                    { k.mu.RLock(); defer k.mu.RUnlock(); return k.bus }
func (k *KernelComponent) Engine() *taskengine.Engine             { k.mu.RLock(); defer k.mu.RUnlock(); return k.engine }
func (k *KernelComponent) Models() *modelrouter.Router            { k.mu.RLock(); defer k.mu.RUnlock(); return k.models }
func (k *KernelComponent) MessageRouter() *router.Router          { k.mu.RLock(); defer k.mu.RUnlock(); return k.msgs }
func (k *KernelComponent) Loader() *extension.Loader              { k.mu.RLock(); defer k.mu.RUnlock(); return k.loader }
func (k *KernelComponent) ToolRegistry() *tool.Registry           { k.mu.RLock(); defer k.mu.RUnlock(); return k.registry }
func (k *KernelComponent) Channels() *coretools.ChannelRegistry   { k.mu.RLock(); defer k.mu.RUnlock(); return k.channels }

// builtinOptionsFrom adapts the workspace's tools config into the
// dependencies internal/tool/builtin's factories need, falling back to
// their package defaults when a duration fails to parse.
func builtinOptionsFrom(cfg config.ToolsConfig) tool.BuiltinOptions {
	webTimeout, _ := config.DurationOrDefault(cfg.Web.Timeout, "10s")
	weatherTimeout, _ := config.DurationOrDefault(cfg.Weather.Timeout, "10s")
	financeTimeout, _ := config.DurationOrDefault(cfg.Finance.Timeout, "10s")
	sportsTimeout, _ := config.DurationOrDefault(cfg.Sports.Timeout, "10s")
	imageQueryTimeout, _ := config.DurationOrDefault(cfg.ImageQuery.Timeout, "10s")
	screenshotTimeout, _ := config.DurationOrDefault(cfg.Screenshot.Timeout, "15s")

	maxContentLength := cfg.Web.MaxContentLength
	if maxContentLength <= 0 {
		maxContentLength = tool.DefaultBuiltinWebMaxContentLength
	}

	return tool.BuiltinOptions{
		WebTimeout:          webTimeout,
		WebBaseURL:          cfg.Web.BaseURL,
		WebMaxContentLength: maxContentLength,
		WeatherBaseURL:      cfg.Weather.BaseURL,
		WeatherTimeout:      weatherTimeout,
		FinanceBaseURL:      cfg.Finance.BaseURL,
		FinanceTimeout:      financeTimeout,
		SportsBaseURL:       cfg.Sports.BaseURL,
		SportsTimeout:       sportsTimeout,
		ImageQueryBaseURL:   cfg.ImageQuery.BaseURL,
		ImageQueryTimeout:   imageQueryTimeout,
		ScreenshotTimeout:   screenshotTimeout,
		ScreenshotRenderer:  cfg.Screenshot.Renderer,
		ApplyPatchCommand:   cfg.ApplyPatch.Command,
	}
}

var _ daemon.Component = (*KernelComponent)(nil)
