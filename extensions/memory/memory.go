// Package memory is a ContextProvider extension backed by
// philippgille/chromem-go, adapted from the teacher's
// internal/store.Worker vector-DB wiring (same persistent-DB-plus-
// collection idiom) but standalone: this extension owns its db file
// under its own data directory rather than sharing the workspace
// store's.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/sorrel-ai/hearth/internal/extension"
)

const defaultRecallLimit = 5

func init() {
	extension.Register("memory", func() extension.Instance { return &Provider{} })
}

// Provider implements extension.ContextProvider and subscribes to
// "system.memory.remember" events so other extensions/tools can push
// facts into long-term memory without a direct dependency on this one.
type Provider struct {
	ectx         *extension.Context
	collection   string
	recallLimit  int

	mu sync.Mutex
	db *chromem.DB
}

func (p *Provider) Setup(ctx context.Context, ectx *extension.Context) error {
	p.ectx = ectx
	p.collection = "agent_memory"
	if v, ok := ectx.GetConfig("collection"); ok {
		if s, ok := v.(string); ok && s != "" {
			p.collection = s
		}
	}
	p.recallLimit = defaultRecallLimit
	if v, ok := ectx.GetConfig("recall_limit"); ok {
		if n, ok := v.(int); ok && n > 0 {
			p.recallLimit = n
		}
	}

	dataDir, err := ectx.DataDir()
	if err != nil {
		return fmt.Errorf("memory: data dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dataDir, true)
	if err != nil {
		return fmt.Errorf("memory: open chromem db: %w", err)
	}
	p.db = db

	ectx.SubscribeEvent("system.memory.remember", p.onRemember)
	return nil
}

func (p *Provider) onRemember(ctx context.Context, topic string, payload []byte) error {
	return p.Remember(ctx, string(payload))
}

// Remember stores one fact in long-term memory.
func (p *Provider) Remember(ctx context.Context, content string) error {
	p.mu.Lock()
	db := p.db
	p.mu.Unlock()

	col, err := db.GetOrCreateCollection(p.collection, nil, nil)
	if err != nil {
		return fmt.Errorf("memory: get collection: %w", err)
	}
	return col.AddDocuments(ctx, []chromem.Document{{ID: uuid.NewString(), Content: content}}, 1)
}

// RecallContext implements extension.ContextProvider: it returns the
// query's nearest-neighbor memories joined into one context block the
// message router folds into the agent invocation.
func (p *Provider) RecallContext(ctx context.Context, sessionID string, query string) (string, error) {
	p.mu.Lock()
	db := p.db
	p.mu.Unlock()

	col := db.GetCollection(p.collection, nil)
	if col == nil || col.Count() == 0 {
		return "", nil
	}

	limit := p.recallLimit
	if col.Count() < limit {
		limit = col.Count()
	}
	results, err := col.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return "", fmt.Errorf("memory: query: %w", err)
	}

	out := ""
	for _, r := range results {
		out += "- " + r.Content + "\n"
	}
	return out, nil
}

var _ extension.ContextProvider = (*Provider)(nil)
