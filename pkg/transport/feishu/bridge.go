package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"myagent/pkg/config"
	"myagent/pkg/protocol"
	"myagent/pkg/thread"
	"myagent/pkg/utils"
)

// contentElementID is the element_id of the markdown body element every
// streaming card carries, the one target of incremental updates.
const contentElementID = "content_md"

// streamInterval is the cadence of the text-streaming ticker: accumulated
// deltas are pushed to the card's markdown element at most this often, so a
// fast-streaming turn doesn't hammer the CardKit API.
const streamInterval = 400 * time.Millisecond

// Transport owns the Feishu API client and the card-rendering half of the
// bridge between TransportEvents and the thread manager.
type Transport struct {
	api *API
}

// NewTransport builds a Transport from the configured Feishu credentials.
func NewTransport(cfg config.FeishuConfig) *Transport {
	return &Transport{api: NewAPI(cfg)}
}

// SendStreamingCard creates a new CardKit entity in streaming mode and posts
// it to convID, returning the (message_id, card_id) pair.
func (t *Transport) SendStreamingCard(convID, title string) (msgID, cardID string, err error) {
	cardJSON := buildCardJSON(title, "blue", true, "⏳ Thinking...")
	cardID, err = t.api.CreateCard(cardJSON)
	if err != nil {
		return "", "", fmt.Errorf("create streaming card: %w", err)
	}
	slog.Debug("created feishu streaming card", "card_id", cardID)

	msgID, err = t.api.SendMessage(convID, "interactive", map[string]any{
		"type": "card",
		"data": map[string]string{"card_id": cardID},
	})
	if err != nil {
		return "", "", fmt.Errorf("send card message: %w", err)
	}
	return msgID, cardID, nil
}

// UpdateCardContent full-replaces a streaming card's body text.
func (t *Transport) UpdateCardContent(cardID, title, content string) error {
	cardJSON := buildCardJSON(title, "blue", true, content)
	return t.api.UpdateCard(cardID, cardJSON)
}

// StreamText pushes accumulated text into the card's markdown element via
// the element-level streaming endpoint, the lightweight path for
// incremental output (full-card updates are reserved for structural
// changes).
func (t *Transport) StreamText(cardID, content string) error {
	return t.api.StreamingUpdateText(cardID, contentElementID, content)
}

// FinishCard closes streaming mode and renders the final status on a card.
func (t *Transport) FinishCard(cardID, title, status, content string) error {
	emoji, template := statusDecoration(status)
	finalCard := buildCardJSON(fmt.Sprintf("%s %s", emoji, title), template, false, content)

	settings := `{"config":{"streaming_mode":false}}`
	if err := t.api.UpdateCardSettings(cardID, settings); err != nil {
		slog.Warn("failed to close feishu card streaming mode", "error", err)
	}
	if err := t.api.UpdateCard(cardID, finalCard); err != nil {
		slog.Warn("failed to update final feishu card", "error", err)
	}
	slog.Debug("finished feishu card", "card_id", cardID, "status", status)
	return nil
}

// ReplyText replies to a message with plain text (used for the
// expired-session fallback).
func (t *Transport) ReplyText(msgID, text string) error {
	_, err := t.api.ReplyMessage(msgID, "text", map[string]string{"text": text})
	return err
}

// DownloadFileTo downloads a message resource by file_key, optionally
// saving it to savePath when non-empty, and returns the raw bytes.
func (t *Transport) DownloadFileTo(messageID, fileKey, resourceType, savePath string) ([]byte, error) {
	data, err := t.api.DownloadMessageResource(messageID, fileKey, resourceType)
	if err != nil {
		return nil, err
	}
	if savePath != "" {
		if err := os.WriteFile(savePath, data, 0o644); err != nil {
			return nil, fmt.Errorf("save downloaded file: %w", err)
		}
	}
	return data, nil
}

func statusDecoration(status string) (emoji, template string) {
	switch status {
	case protocol.AgentStatusCompleted:
		return "✅", "green"
	case protocol.AgentStatusFailed:
		return "❌", "red"
	case protocol.AgentStatusCancelled:
		return "⏹", "grey"
	default:
		return "📋", "blue"
	}
}

func buildCardJSON(title, template string, streaming bool, content string) string {
	card := map[string]any{
		"schema": "2.0",
		"header": map[string]any{
			"title":    map[string]string{"tag": "plain_text", "content": title},
			"template": template,
		},
		"config": map[string]any{"streaming_mode": streaming},
		"body": map[string]any{
			"elements": []map[string]any{
				{"tag": "markdown", "content": content, "element_id": contentElementID},
			},
		},
	}
	b, _ := json.Marshal(card)
	return string(b)
}

// cardState tracks one thread's rendered card and accumulated text. A thread
// gets a fresh cardState per turn: the previous card is closed at terminal
// status and a follow-up allocates a new one. dirty marks buffered text the
// streaming ticker has not pushed yet.
type cardState struct {
	mu     sync.Mutex
	convID string
	msgID  string
	cardID string
	title  string
	text   strings.Builder
	dirty  bool
}

// Bridge wires Feishu TransportEvents to the thread Manager, and drains each
// thread's event queue back into card updates.
type Bridge struct {
	transport *Transport
	manager   *thread.Manager
	agentType string
	workspace string

	mu        sync.Mutex
	cardByMsg map[string]protocol.ThreadId // card message_id -> owning thread, for reply routing
	cards     map[protocol.ThreadId]*cardState
}

// NewBridge builds a Bridge over an already-configured Manager. Files sent by
// users are saved under workspace so the agent's file tools can reach them.
func NewBridge(cfg config.FeishuConfig, manager *thread.Manager, agentType, workspace string) *Bridge {
	return &Bridge{
		transport: NewTransport(cfg),
		manager:   manager,
		agentType: agentType,
		workspace: workspace,
		cardByMsg: make(map[string]protocol.ThreadId),
		cards:     make(map[protocol.ThreadId]*cardState),
	}
}

// Run connects to the Feishu gateway and processes TransportEvents until ctx
// is cancelled.
func (b *Bridge) Run(ctx context.Context, appID, appSecret string) {
	events := make(chan TransportEvent, 64)
	go RunEventLoop(ctx, appID, appSecret, events)

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			b.handleEvent(ctx, evt)
		}
	}
}

func (b *Bridge) handleEvent(ctx context.Context, evt TransportEvent) {
	switch evt.Kind {
	case TransportNewMessage:
		b.startThread(ctx, evt.ConvID, evt.Text)
	case TransportReplyMessage:
		b.routeReply(ctx, evt.CardMsgID, evt.Text)
	case TransportFileMessage:
		b.handleFile(ctx, evt)
	}
}

func (b *Bridge) startThread(ctx context.Context, convID, text string) {
	id, t, err := b.manager.CreateThread(ctx, b.agentType)
	if err != nil {
		slog.Error("feishu: failed to create thread", "error", err)
		return
	}

	state, err := b.allocateCard(id, convID)
	if err != nil {
		slog.Error("feishu: failed to send streaming card", "error", err)
		return
	}

	if err := t.Submit(ctx, protocol.NewUserMessage(text)); err != nil {
		slog.Error("feishu: failed to submit user message", "error", err)
		return
	}

	go b.renderLoop(ctx, id, t, state)
}

// allocateCard creates a fresh streaming card for one turn of a thread and
// indexes its message id for reply routing.
func (b *Bridge) allocateCard(id protocol.ThreadId, convID string) (*cardState, error) {
	msgID, cardID, err := b.transport.SendStreamingCard(convID, "Processing...")
	if err != nil {
		return nil, err
	}

	state := &cardState{convID: convID, msgID: msgID, cardID: cardID, title: "Processing..."}
	b.mu.Lock()
	b.cards[id] = state
	b.cardByMsg[msgID] = id
	b.mu.Unlock()
	return state, nil
}

const expiredSessionReply = "⚠️ This session has expired. Please start a new conversation."

func (b *Bridge) routeReply(ctx context.Context, cardMsgID, text string) {
	b.mu.Lock()
	id, ok := b.cardByMsg[cardMsgID]
	var convID string
	if prev, live := b.cards[id]; live {
		convID = prev.convID
	}
	b.mu.Unlock()

	if !ok || convID == "" {
		b.transport.ReplyText(cardMsgID, expiredSessionReply)
		return
	}
	t, ok := b.manager.GetThread(id)
	if !ok || t.Done() {
		b.transport.ReplyText(cardMsgID, expiredSessionReply)
		return
	}

	// Follow-up rendering: the previous turn's card is closed, so this turn
	// gets a fresh one.
	state, err := b.allocateCard(id, convID)
	if err != nil {
		slog.Error("feishu: failed to send follow-up card", "error", err)
		return
	}

	if err := t.Submit(ctx, protocol.NewFollowUp(text)); err != nil {
		slog.Error("feishu: failed to submit follow-up", "error", err)
		b.transport.ReplyText(cardMsgID, expiredSessionReply)
		return
	}

	go b.renderLoop(ctx, id, t, state)
}

func (b *Bridge) handleFile(ctx context.Context, evt TransportEvent) {
	data, err := b.transport.DownloadFileTo(evt.MessageID, evt.FileKey, "file", "")
	if err != nil {
		slog.Warn("feishu: failed to download message resource", "error", err)
		return
	}

	name := evt.FileName
	if name == "" {
		_, ext := utils.SniffMime(data)
		name = utils.StampedFileName(evt.FileKey, ext)
	}
	savePath := filepath.Join(b.workspace, name)
	if err := os.MkdirAll(b.workspace, 0o755); err != nil {
		slog.Warn("feishu: failed to create workspace dir", "error", err)
		return
	}
	if err := os.WriteFile(savePath, data, 0o644); err != nil {
		slog.Warn("feishu: failed to save downloaded file", "error", err)
		return
	}

	note := fmt.Sprintf("[User sent a file, saved to: %s]", savePath)
	if evt.ParentID != "" {
		b.routeReply(ctx, evt.ParentID, note)
		return
	}
	b.startThread(ctx, evt.ConvID, note)
}

// renderLoop drains one thread's event queue until the agent reaches a
// terminal status. Text deltas only mutate the buffer; a companion ticker
// goroutine streams the buffer to the card, and full-card updates happen
// only on structural events (tool markers, block boundaries, errors).
func (b *Bridge) renderLoop(ctx context.Context, id protocol.ThreadId, t *thread.AgentThread, state *cardState) {
	stop := make(chan struct{})
	defer close(stop)
	go b.streamText(stop, state)

	for {
		evt, ok := t.NextEvent(ctx)
		if !ok {
			b.finalize(state, protocol.AgentStatusFailed, "connection lost")
			return
		}

		switch evt.Kind {
		case protocol.EventContentBlockStart:
			switch evt.ContentBlock.Type {
			case protocol.BlockTypeToolUse:
				state.mu.Lock()
				state.text.WriteString(fmt.Sprintf("\n\n🔧 Using tool: `%s`\n", evt.ContentBlock.Name))
				state.mu.Unlock()
				b.fullUpdate(state)
			case protocol.BlockTypeToolResult:
				b.fullUpdate(state)
			}
		case protocol.EventContentBlockStop:
			b.fullUpdate(state)
		case protocol.EventTextDelta:
			state.mu.Lock()
			state.text.WriteString(evt.Text)
			state.dirty = true
			state.mu.Unlock()
		case protocol.EventError:
			state.mu.Lock()
			state.text.WriteString(fmt.Sprintf("\n\n⚠️ %s\n", evt.ErrorMessage))
			state.mu.Unlock()
			b.fullUpdate(state)
		case protocol.EventStatusChange:
			if evt.Status.IsTerminal() {
				// The cards entry stays so a follow-up reply can recover the
				// conversation id; only the render loop ends here.
				b.finalize(state, evt.Status.Phase, evt.Status.Message)
				return
			}
		}
	}
}

// streamText pushes buffered text to the card's markdown element every
// streamInterval while the turn is live, skipping ticks with nothing new.
func (b *Bridge) streamText(stop <-chan struct{}, state *cardState) {
	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			state.mu.Lock()
			if !state.dirty {
				state.mu.Unlock()
				continue
			}
			content := state.text.String()
			cardID := state.cardID
			state.dirty = false
			state.mu.Unlock()

			if err := b.transport.StreamText(cardID, content); err != nil {
				slog.Warn("feishu: failed to stream card text", "error", err)
			}
		}
	}
}

// fullUpdate rewrites the whole card body, used when structure (not just
// trailing text) changed.
func (b *Bridge) fullUpdate(state *cardState) {
	state.mu.Lock()
	content := state.text.String()
	cardID := state.cardID
	title := state.title
	state.dirty = false
	state.mu.Unlock()

	if err := b.transport.UpdateCardContent(cardID, title, content); err != nil {
		slog.Warn("feishu: failed to update card content", "error", err)
	}
}

func (b *Bridge) finalize(state *cardState, status, errMsg string) {
	state.mu.Lock()
	content := state.text.String()
	if content == "" {
		content = "(no output)"
	}
	if errMsg != "" {
		content += fmt.Sprintf("\n\n⚠️ %s", errMsg)
	}
	cardID := state.cardID
	title := state.title
	state.mu.Unlock()

	if err := b.transport.FinishCard(cardID, title, status, content); err != nil {
		slog.Warn("feishu: failed to finish card", "error", err)
	}
}
