// Package telegram is a StreamingChannelProvider extension wrapping
// go-telegram-bot-api, adapted from the teacher's
// internal/adapter.TelegramAdapter: the long-poll loop and chat-id
// session-id convention are unchanged, but update handling now drives
// Context.InvokeAgent directly instead of going through an
// EventHandler callback into the old ingress pipeline.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sorrel-ai/hearth/internal/extension"
	hearthErrors "github.com/sorrel-ai/hearth/internal/errors"
)

const defaultUpdateTimeout = 60

func init() {
	extension.Register("telegram", func() extension.Instance { return &Channel{} })
}

// Channel implements extension.StreamingChannelProvider, extension.Lifecycle,
// and extension.HealthChecker.
type Channel struct {
	ectx    *extension.Context
	agentID string

	mu      sync.Mutex
	bot     *tgbotapi.BotAPI
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
	return nil
}

func (c *Channel) Start(ctx context.Context) error {
	token, err := c.ectx.GetSecret(ctx, "telegram_bot_token")
	if err != nil {
		return fmt.Errorf("telegram: resolve bot token secret: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return fmt.Errorf("telegram: init bot: %w", err)
	}

	updateTimeout := defaultUpdateTimeout
	if v, ok := c.ectx.GetConfig("update_timeout"); ok {
		if n, ok := v.(int); ok && n > 0 {
			updateTimeout = n
		}
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout
	updates := bot.GetUpdatesChan(u)

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.bot = bot
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.loop(runCtx, updates)
	c.ectx.Logger().Info("telegram bot started", "user", bot.Self.UserName)
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

func (c *Channel) loop(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			c.handleUpdate(ctx, update)
		}
	}
}

func (c *Channel) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil {
		return
	}
	msg := update.Message
	sessionID := fmt.Sprintf("%d", msg.Chat.ID)

	reply, err := c.ectx.InvokeAgent(ctx, c.agentID, sessionID, msg.Text)
	if err != nil {
		c.ectx.Logger().Error("telegram: agent invocation failed", "error", err, "session_id", sessionID)
		return
	}
	if err := c.SendToUser(ctx, sessionID, reply); err != nil {
		c.ectx.Logger().Error("telegram: send failed", "error", err, "session_id", sessionID)
	}
}

// SendToUser implements extension.ChannelProvider.
func (c *Channel) SendToUser(ctx context.Context, sessionID string, message string) error {
	chatID, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		return hearthErrors.InvalidInput("invalid telegram session id: " + err.Error())
	}
	c.mu.Lock()
	bot := c.bot
	c.mu.Unlock()
	if bot == nil {
		return hearthErrors.Transient("telegram bot not started")
	}
	_, err = bot.Send(tgbotapi.NewMessage(chatID, message))
	if err != nil {
		return hearthErrors.Wrap(err, "send telegram message")
	}
	return nil
}

// SendChunk implements extension.StreamingChannelProvider. The
// bot-api has no token-streaming primitive, so each chunk is sent as
// its own message; only the final chunk is guaranteed delivered if
// intermediate sends fail.
func (c *Channel) SendChunk(ctx context.Context, sessionID string, chunk string, final bool) error {
	if chunk == "" && !final {
		return nil
	}
	return c.SendToUser(ctx, sessionID, chunk)
}

func (c *Channel) Health(ctx context.Context) error {
	c.mu.Lock()
	bot := c.bot
	c.mu.Unlock()
	if bot == nil {
		return hearthErrors.Transient("telegram bot not initialized")
	}
	if _, err := bot.GetMe(); err != nil {
		return hearthErrors.Transient("telegram connection failed: " + err.Error())
	}
	return nil
}

var (
	_ extension.StreamingChannelProvider = (*Channel)(nil)
	_ extension.Lifecycle                = (*Channel)(nil)
	_ extension.HealthChecker            = (*Channel)(nil)
)
