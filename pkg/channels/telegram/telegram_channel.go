// Package telegram implements myagent's secondary chat channel: a plain-text
// relay with no card lifecycle, since the Telegram Bot API has no
// mutate-in-place message equivalent.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"myagent/pkg/protocol"
	"myagent/pkg/thread"
)

// messageLimit is the longest chunk sent in one Telegram message; longer
// replies are split on this boundary.
const messageLimit = 4000

// Config is the Telegram channel's credential.
type Config struct {
	Token string
}

// Channel relays chat messages between Telegram and the thread manager:
// each Telegram chat maps to one long-lived thread, and agent output is
// buffered until the turn ends, then sent as plain text.
type Channel struct {
	bot       *tgbotapi.BotAPI
	manager   *thread.Manager
	agentType string

	mu      sync.Mutex
	threads map[int64]protocol.ThreadId
}

// New builds a Telegram channel from cfg. It does not contact the Telegram
// API until Run is called.
func New(cfg Config, manager *thread.Manager, agentType string) (*Channel, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	return &Channel{
		bot:       bot,
		manager:   manager,
		agentType: agentType,
		threads:   make(map[int64]protocol.ThreadId),
	}, nil
}

// Run long-polls Telegram for updates until ctx is cancelled.
func (c *Channel) Run(ctx context.Context) {
	slog.Info("telegram channel started", "bot", c.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			c.handleMessage(ctx, update.Message)
		}
	}
}

func (c *Channel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	c.mu.Lock()
	id, exists := c.threads[chatID]
	c.mu.Unlock()

	var t *thread.AgentThread
	var sub protocol.Submission
	if exists {
		if th, ok := c.manager.GetThread(id); ok && !th.Done() {
			t = th
			sub = protocol.NewFollowUp(text)
		}
	}
	if t == nil {
		newID, newThread, err := c.manager.CreateThread(ctx, c.agentType)
		if err != nil {
			slog.Error("telegram: failed to create thread", "error", err)
			return
		}
		c.mu.Lock()
		c.threads[chatID] = newID
		c.mu.Unlock()
		id = newID
		t = newThread
		sub = protocol.NewUserMessage(text)
	}

	if err := t.Submit(ctx, sub); err != nil {
		slog.Error("telegram: failed to submit message", "error", err, "chat_id", chatID)
		return
	}

	go c.relayTurn(ctx, chatID, t)
}

// relayTurn buffers text output until the turn reaches a terminal status,
// then sends it chunked at messageLimit.
func (c *Channel) relayTurn(ctx context.Context, chatID int64, t *thread.AgentThread) {
	var buf strings.Builder

	for {
		evt, ok := t.NextEvent(ctx)
		if !ok {
			break
		}
		switch evt.Kind {
		case protocol.EventTextDelta:
			buf.WriteString(evt.Text)
		case protocol.EventError:
			buf.WriteString(fmt.Sprintf("\n\nError: %s", evt.ErrorMessage))
		case protocol.EventStatusChange:
			if evt.Status.Phase == protocol.AgentStatusFailed && evt.Status.Message != "" {
				buf.WriteString(fmt.Sprintf("\n\nFailed: %s", evt.Status.Message))
			}
			if evt.Status.IsTerminal() {
				c.send(chatID, buf.String())
				return
			}
		}
	}
	c.send(chatID, buf.String())
}

// send delivers text to chatID, chunked at messageLimit runes.
func (c *Channel) send(chatID int64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	runes := []rune(text)
	for i := 0; i < len(runes); i += messageLimit {
		end := i + messageLimit
		if end > len(runes) {
			end = len(runes)
		}
		msg := tgbotapi.NewMessage(chatID, string(runes[i:end]))
		if _, err := c.bot.Send(msg); err != nil {
			slog.Warn("telegram: failed to send message", "error", err, "chat_id", chatID)
		}
	}
}
