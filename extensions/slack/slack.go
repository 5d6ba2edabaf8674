// Package slack is a StreamingChannelProvider extension wrapping
// slack-go/slack, adapted from the teacher's
// internal/adapter.SlackAdapter: the Events API webhook server and
// signature verification are unchanged, but message handling now
// drives Context.InvokeAgent directly instead of going through an
// EventHandler callback into the old ingress pipeline.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	hearthErrors "github.com/sorrel-ai/hearth/internal/errors"
	"github.com/sorrel-ai/hearth/internal/extension"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const defaultPort = 8090

func init() {
	extension.Register("slack", func() extension.Instance { return &Channel{} })
}

// Channel implements extension.StreamingChannelProvider, extension.Lifecycle,
// and extension.HealthChecker.
type Channel struct {
	ectx    *extension.Context
	agentID string
	port    int

	mu            sync.Mutex
	client        *slack.Client
	signingSecret string
	server        *http.Server
	done          chan struct{}
}

func (c *Channel) Setup(ctx context.Context, ectx *extension.Context) error {
	c.ectx = ectx
	c.agentID = "default"
	if v, ok := ectx.GetConfig("agent_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			c.agentID = s
		}
	}
	c.port = defaultPort
	if v, ok := ectx.GetConfig("port"); ok {
		if n, ok := v.(int); ok && n > 0 {
			c.port = n
		}
	}
	return nil
}

func (c *Channel) Start(ctx context.Context) error {
	botToken, err := c.ectx.GetSecret(ctx, "slack_bot_token")
	if err != nil {
		return fmt.Errorf("slack: resolve bot token secret: %w", err)
	}
	signingSecret, err := c.ectx.GetSecret(ctx, "slack_signing_secret")
	if err != nil {
		return fmt.Errorf("slack: resolve signing secret: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/slack/events", c.handleEvents)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.port),
		Handler: mux,
	}

	c.mu.Lock()
	c.client = slack.New(botToken)
	c.signingSecret = signingSecret
	c.server = server
	c.done = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		c.ectx.Logger().Info("slack events listener starting", "port", c.port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.ectx.Logger().Error("slack server failed", "error", err)
		}
	}()
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	server, done := c.server, c.done
	c.mu.Unlock()
	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	if done != nil {
		<-done
	}
	return nil
}

func (c *Channel) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	signingSecret := c.signingSecret
	c.mu.Unlock()

	sv, err := slack.NewSecretsVerifier(r.Header, signingSecret)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, err := sv.Write(body); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if err := sv.Ensure(); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	eventsAPIEvent, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if eventsAPIEvent.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(challenge.Challenge))
		return
	}

	if eventsAPIEvent.Type == slackevents.CallbackEvent {
		innerEvent := eventsAPIEvent.InnerEvent
		if ev, ok := innerEvent.Data.(*slackevents.MessageEvent); ok {
			if ev.BotID != "" {
				w.WriteHeader(http.StatusOK)
				return
			}
			c.handleMessage(r.Context(), ev)
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (c *Channel) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	sessionID := ev.Channel
	reply, err := c.ectx.InvokeAgent(ctx, c.agentID, sessionID, ev.Text)
	if err != nil {
		c.ectx.Logger().Error("slack: agent invocation failed", "error", err, "session_id", sessionID)
		return
	}
	if err := c.SendToUser(ctx, sessionID, reply); err != nil {
		c.ectx.Logger().Error("slack: send failed", "error", err, "session_id", sessionID)
	}
}

// SendToUser implements extension.ChannelProvider. sessionID is the
// Slack channel ID the message arrived on.
func (c *Channel) SendToUser(ctx context.Context, sessionID string, message string) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return hearthErrors.Transient("slack client not started")
	}
	_, _, err := client.PostMessageContext(ctx, sessionID, slack.MsgOptionText(message, false))
	if err != nil {
		return hearthErrors.Wrap(err, "send slack message")
	}
	return nil
}

// SendChunk implements extension.StreamingChannelProvider. The Web
// API has no token-streaming primitive, so each chunk is posted as
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
	client, server := c.client, c.server
	c.mu.Unlock()
	if server == nil || client == nil {
		return hearthErrors.Transient("slack channel not started")
	}
	if _, err := client.AuthTestContext(ctx); err != nil {
		return hearthErrors.Transient("slack connection failed: " + err.Error())
	}
	return nil
}

var (
	_ extension.StreamingChannelProvider = (*Channel)(nil)
	_ extension.Lifecycle                = (*Channel)(nil)
	_ extension.HealthChecker            = (*Channel)(nil)
)
