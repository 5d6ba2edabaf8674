package extension

import "context"

// declarativeAgent backs a manifest that declares agent.model and
// agent.system_prompt with no Go entrypoint. It does not implement
// AgentProvider, and its declared model/system prompt are not
// registered with the model router; this struct only carries the
// manifest's values through Setup.
type declarativeAgent struct {
	block *AgentBlock
	ectx  *Context
}

func newDeclarativeAgent(block *AgentBlock) *declarativeAgent {
	return &declarativeAgent{block: block}
}

func (d *declarativeAgent) Setup(ctx context.Context, ectx *Context) error {
	d.ectx = ectx
	return nil
}

// Model returns the declared model name for routing.
func (d *declarativeAgent) Model() string { return d.block.Model }

// SystemPrompt returns the declared system prompt.
func (d *declarativeAgent) SystemPrompt() string { return d.block.SystemPrompt }

var _ Instance = (*declarativeAgent)(nil)
