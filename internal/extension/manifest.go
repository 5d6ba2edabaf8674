package extension

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sorrel-ai/hearth/internal/kernelerrors"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// validHandlerKinds enumerates the event.subscribes[*].handler values
// an extension manifest may declare; anything else fails validation.
var validHandlerKinds = map[string]bool{
	"invoke_agent":          true,
	"invoke_agent_streamed": true,
	"notify_user":           true,
	"internal":              true,
}

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Manifest is the parsed contents of an extension's manifest.yaml.
type Manifest struct {
	ID          string              `yaml:"id"`
	Name        string              `yaml:"name"`
	Version     string              `yaml:"version"`
	Entrypoint  string              `yaml:"entrypoint"`
	Agent       *AgentBlock         `yaml:"agent"`
	DependsOn   []string            `yaml:"depends_on"`
	UsesSkills  []string            `yaml:"uses_skills"`
	Events      EventsBlock         `yaml:"events"`
	Schedules   []ScheduleBlock     `yaml:"schedules"`
	Config      map[string]any      `yaml:"config"`

	// dir is the directory the manifest was loaded from, returned by
	// Dir(). Entrypoints are not resolved against it; the data dir is
	// keyed by ID.
	dir string
}

// AgentBlock declares a manifest-only (no Go entrypoint) agent backed
// purely by a model + system prompt.
type AgentBlock struct {
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
}

// EventsBlock lists event subscriptions the loader wires on behalf of
// the extension.
type EventsBlock struct {
	Subscribes []SubscribeBlock `yaml:"subscribes"`
}

type SubscribeBlock struct {
	Topic   string `yaml:"topic"`
	Handler string `yaml:"handler"`
}

// ScheduleBlock declares a cron-triggered job. For an extension that
// implements SchedulerProvider the loader calls OnSchedule with Name;
// for any other extension it emits Topic on the bus.
type ScheduleBlock struct {
	Name  string `yaml:"name"`
	Cron  string `yaml:"cron"`
	Topic string `yaml:"topic"`
}

// ManifestError wraps ErrManifestInvalid with the offending extension
// directory for easier diagnosis.
type ManifestError struct {
	Dir string
	Err error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest %s: %v", e.Dir, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// LoadManifest reads and validates dir/manifest.yaml. The folder name
// of dir must equal the declared id.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "manifest.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestError{Dir: dir, Err: kernelerrors.ManifestInvalid(fmt.Sprintf("read manifest: %v", err))}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestError{Dir: dir, Err: kernelerrors.ManifestInvalid(fmt.Sprintf("parse yaml: %v", err))}
	}
	m.dir = dir

	if err := m.validate(filepath.Base(dir)); err != nil {
		return nil, &ManifestError{Dir: dir, Err: err}
	}

	return &m, nil
}

func (m *Manifest) validate(folderName string) error {
	if m.ID == "" {
		return kernelerrors.ManifestInvalid("id is required")
	}
	if !idPattern.MatchString(m.ID) {
		return kernelerrors.ManifestInvalid(fmt.Sprintf("id %q must match %s", m.ID, idPattern.String()))
	}
	if m.ID != folderName {
		return kernelerrors.ManifestInvalid(fmt.Sprintf("id %q must equal containing folder name %q", m.ID, folderName))
	}

	hasEntrypoint := m.Entrypoint != ""
	hasDeclarativeAgent := m.Agent != nil && m.Agent.Model != ""
	if !hasEntrypoint && !hasDeclarativeAgent {
		return kernelerrors.ManifestInvalid("one of entrypoint or agent.model is required")
	}

	for _, dep := range m.DependsOn {
		if dep == m.ID {
			return kernelerrors.ManifestInvalid(fmt.Sprintf("extension cannot depend on itself (%s)", m.ID))
		}
	}

	for _, sub := range m.Events.Subscribes {
		if sub.Topic == "" {
			return kernelerrors.ManifestInvalid("events.subscribes entry missing topic")
		}
		if !validHandlerKinds[sub.Handler] {
			return kernelerrors.ManifestInvalid(fmt.Sprintf("events.subscribes[%s].handler %q is not one of %v", sub.Topic, sub.Handler, handlerKindNames()))
		}
	}

	for _, sched := range m.Schedules {
		if sched.Cron == "" {
			return kernelerrors.ManifestInvalid(fmt.Sprintf("schedule %q missing cron expression", sched.Name))
		}
		if _, err := cron.ParseStandard(sched.Cron); err != nil {
			return kernelerrors.ManifestInvalid(fmt.Sprintf("schedule %q cron %q: %v", sched.Name, sched.Cron, err))
		}
	}

	return nil
}

func handlerKindNames() []string {
	names := make([]string, 0, len(validHandlerKinds))
	for k := range validHandlerKinds {
		names = append(names, k)
	}
	return names
}

// Dir returns the extension's source directory.
func (m *Manifest) Dir() string { return m.dir }

// DiscoverManifests walks root (the sandbox's extensions/ directory)
// one level deep and loads every subdirectory's manifest.yaml.
func DiscoverManifests(root string) ([]*Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read extensions dir %s: %w", root, err)
	}

	var manifests []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "manifest.yaml")); err != nil {
			continue
		}
		m, err := LoadManifest(dir)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
