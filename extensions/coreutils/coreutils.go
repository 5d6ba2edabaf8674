// Package coreutils is a ToolProvider extension that exposes a subset
// of the teacher's internal/tool/builtin catalog (exec_command, time,
// search_query) through the extension capability surface instead of the
// kernel's fixed tool registry, so the set of core utilities an agent
// gets is a manifest/config choice rather than a compile-time one.
package coreutils

import (
	"context"
	"encoding/json"
	"fmt"

	hearthErrors "github.com/sorrel-ai/hearth/internal/errors"
	"github.com/sorrel-ai/hearth/internal/extension"
	"github.com/sorrel-ai/hearth/internal/model/contract"
	toolcore "github.com/sorrel-ai/hearth/internal/tool"

	_ "github.com/sorrel-ai/hearth/internal/tool/builtin" // registers exec_command, time, search_query, etc.
)

var defaultToolNames = []string{"exec_command", "time", "search_query"}

func init() {
	extension.Register("coreutils", func() extension.Instance { return &Provider{} })
}

// Provider implements extension.ToolProvider over a fixed subset of
// the teacher's built-in tools, selected by the manifest's
// config.tools list (defaultToolNames if unset).
type Provider struct {
	tools map[string]toolcore.Tool
}

func (p *Provider) Setup(ctx context.Context, ectx *extension.Context) error {
	names := defaultToolNames
	if v, ok := ectx.GetConfig("tools"); ok {
		if raw, ok := v.([]interface{}); ok && len(raw) > 0 {
			configured := make([]string, 0, len(raw))
			for _, item := range raw {
				if s, ok := item.(string); ok {
					configured = append(configured, s)
				}
			}
			names = configured
		}
	}

	all, err := toolcore.InstantiateBuiltins(toolcore.BuiltinOptions{
		WebTimeout:          toolcore.DefaultBuiltinWebTimeout,
		WebMaxContentLength: toolcore.DefaultBuiltinWebMaxContentLength,
	})
	if err != nil {
		return fmt.Errorf("coreutils: instantiate builtins: %w", err)
	}

	byName := make(map[string]toolcore.Tool, len(all))
	for _, t := range all {
		byName[t.Name()] = t
	}

	p.tools = make(map[string]toolcore.Tool, len(names))
	for _, name := range names {
		t, ok := byName[name]
		if !ok {
			ectx.Logger().Warn("coreutils: requested tool not found in builtin catalog", "tool", name)
			continue
		}
		p.tools[name] = t
	}
	return nil
}

// Tools implements extension.ToolProvider.
func (p *Provider) Tools() []contract.ToolDef {
	defs := make([]contract.ToolDef, 0, len(p.tools))
	for _, t := range p.tools {
		defs = append(defs, contract.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// InvokeTool implements extension.ToolProvider.
func (p *Provider) InvokeTool(ctx context.Context, name string, input []byte) ([]byte, error) {
	t, ok := p.tools[name]
	if !ok {
		return nil, hearthErrors.NotFound(fmt.Sprintf("coreutils: tool %q not enabled", name))
	}
	out, err := t.Execute(ctx, json.RawMessage(input))
	if err != nil {
		return nil, err
	}
	return out, nil
}

var _ extension.ToolProvider = (*Provider)(nil)
