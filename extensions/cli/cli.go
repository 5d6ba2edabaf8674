// Package cli is a ChannelProvider extension that reads user messages
// from stdin and writes agent replies to stdout. Adapted from the
// teacher's cmd/hearth/runtime.REPL, stripped of its direct
// ingress/store dependencies: a channel extension only ever talks to
// its Context, never to the host process's internals.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sorrel-ai/hearth/internal/extension"
)

func init() {
	extension.Register("cli", func() extension.Instance { return &Channel{} })
}

// Channel implements extension.ChannelProvider and extension.Lifecycle.
type Channel struct {
	ectx      *extension.Context
	agentID   string
	sessionID string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func (c *Channel) Setup(ctx context.Context, ectx *extension.Context) error {
	c.ectx = ectx
	c.agentID = "default"
	if v, ok := ectx.GetConfig("agent_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			c.agentID = s
		}
	}
	c.sessionID = fmt.Sprintf("cli-%d", time.Now().Unix())
	return nil
}

func (c *Channel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.loop(runCtx)
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if done != nil {
		<-done
	}
	return nil
}

func (c *Channel) loop(ctx context.Context) {
	defer close(c.done)

	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("hearth cli session %s (Ctrl-D or /exit to quit)\n> ", c.sessionID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		text, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				c.ectx.RequestShutdown("cli: stdin closed")
			}
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			fmt.Print("> ")
			continue
		}
		if text == "/exit" {
			c.ectx.RequestShutdown("cli: /exit")
			return
		}

		reply, err := c.ectx.InvokeAgent(ctx, c.agentID, c.sessionID, text)
		if err != nil {
			fmt.Printf("error: %v\n> ", err)
			continue
		}
		fmt.Printf("%s\n> ", reply)
	}
}

// SendToUser implements extension.ChannelProvider: the router uses
// this to deliver replies triggered by something other than the most
// recent stdin line (e.g. a scheduled notification).
func (c *Channel) SendToUser(ctx context.Context, sessionID string, message string) error {
	fmt.Printf("\n%s\n> ", message)
	return nil
}

var (
	_ extension.ChannelProvider = (*Channel)(nil)
	_ extension.Lifecycle       = (*Channel)(nil)
)
