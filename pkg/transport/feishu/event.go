package feishu

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsEndpointURL = "https://open.feishu.cn/callback/ws/endpoint"

// reconnectDelay is how long the event loop waits before retrying a dropped
// or failed websocket connection.
const reconnectDelay = 3 * time.Second

// cacheTTL is how long an incomplete multi-part message is held before being
// dropped.
const cacheTTL = 10 * time.Second

// TransportEventKind discriminates TransportEvent's variants.
type TransportEventKind string

const (
	TransportNewMessage   TransportEventKind = "new_message"
	TransportReplyMessage TransportEventKind = "reply_message"
	TransportFileMessage  TransportEventKind = "file_message"
)

// TransportEvent is a transport-level event surfaced by the Feishu event
// loop, decoupled from protocol.AgentEvent.
type TransportEvent struct {
	Kind TransportEventKind

	ConvID    string
	UserID    string
	Text      string
	CardMsgID string

	MessageID string
	FileKey   string
	FileName  string
	ParentID  string
}

type endpointResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		URL           string `json:"URL"`
		ClientConfig  struct {
			PingInterval      int64 `json:"PingInterval"`
			ReconnectCount    int32 `json:"ReconnectCount"`
			ReconnectInterval int64 `json:"ReconnectInterval"`
			ReconnectNonce    int64 `json:"ReconnectNonce"`
		} `json:"ClientConfig"`
	} `json:"data"`
}

// cacheEntry buffers the parts of a multi-part message until all arrive or
// it expires.
type cacheEntry struct {
	parts   [][]byte
	traceID string
	created time.Time
}

// RunEventLoop connects to the Feishu websocket gateway and forwards decoded
// TransportEvents on out, reconnecting indefinitely until ctx is cancelled.
func RunEventLoop(ctx context.Context, appID, appSecret string, out chan<- TransportEvent) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := runWSConnection(ctx, appID, appSecret, out); err != nil {
			slog.Error("feishu websocket error, reconnecting", "error", err)
		} else {
			slog.Info("feishu websocket closed, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func runWSConnection(ctx context.Context, appID, appSecret string, out chan<- TransportEvent) error {
	body, _ := json.Marshal(map[string]string{"AppID": appID, "AppSecret": appSecret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wsEndpointURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "zh")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	var er endpointResponse
	decErr := json.NewDecoder(resp.Body).Decode(&er)
	resp.Body.Close()
	if decErr != nil {
		return decErr
	}
	if er.Code != 0 {
		return &apiError{"get ws endpoint", er.Msg, er.Code}
	}

	wsURL := er.Data.URL
	pingInterval := time.Duration(er.Data.ClientConfig.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 120 * time.Second
	}

	serviceID := int32(0)
	if u, err := url.Parse(wsURL); err == nil {
		if v := u.Query().Get("service_id"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				serviceID = int32(n)
			}
		}
	}

	slog.Info("feishu websocket connecting")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	slog.Info("feishu websocket connected")

	var writeMu sync.Mutex
	writeFrame := func(f *Frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.BinaryMessage, f.Marshal())
	}

	cache := make(map[string]*cacheEntry)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				pingFrame := &Frame{
					Method:  MethodControl,
					Service: serviceID,
					Headers: []Header{{Key: HeaderType, Value: MsgTypePing}},
				}
				if err := writeFrame(pingFrame); err != nil {
					return
				}
				slog.Debug("feishu ws ping sent")
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Warn("feishu: failed to decode frame", "error", err)
			continue
		}
		handleFrame(frame, out, cache, writeFrame, serviceID)

		for id, entry := range cache {
			if time.Since(entry.created) > cacheTTL {
				delete(cache, id)
			}
		}
	}
}

type apiError struct {
	op  string
	msg string
	code int
}

func (e *apiError) Error() string {
	return "feishu: " + e.op + " failed: " + e.msg
}

func handleFrame(frame *Frame, out chan<- TransportEvent, cache map[string]*cacheEntry, writeFrame func(*Frame) error, serviceID int32) {
	if frame.Method == MethodControl {
		if frame.Header(HeaderType) == MsgTypePong && len(frame.Payload) > 0 {
			slog.Debug("feishu ws received pong")
		}
		return
	}
	if frame.Method != MethodData {
		return
	}
	if frame.Header(HeaderType) != MsgTypeEvent {
		return
	}

	messageID := frame.Header(HeaderMessageID)
	sum := 1
	if v := frame.Header(HeaderSum); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			sum = n
		}
	}
	seq := 0
	if v := frame.Header(HeaderSeq); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			seq = n
		}
	}
	traceID := frame.Header(HeaderTraceID)

	merged := mergeParts(cache, messageID, sum, seq, traceID, frame.Payload)
	if merged == nil {
		return
	}

	slog.Debug("feishu ws event", "message_id", messageID, "trace_id", traceID)

	respCode := 200
	var parsed map[string]any
	if err := json.Unmarshal(merged, &parsed); err != nil {
		slog.Warn("feishu: failed to parse event json", "error", err)
		respCode = 500
	} else if evt := parseEventJSON(parsed); evt != nil {
		out <- *evt
	}

	respPayload, _ := json.Marshal(map[string]int{"code": respCode})
	respFrame := &Frame{
		SeqID:   frame.SeqID,
		LogID:   frame.LogID,
		Service: serviceID,
		Method:  MethodData,
		Headers: append(append([]Header{}, frame.Headers...), Header{Key: HeaderBizRT, Value: "0"}),
		Payload: respPayload,
	}
	if err := writeFrame(respFrame); err != nil {
		slog.Warn("feishu: failed to send ws response", "error", err)
	}
}

// mergeParts accumulates one chunk of a (possibly multi-part) message,
// returning the full payload once every part has arrived.
func mergeParts(cache map[string]*cacheEntry, messageID string, sum, seq int, traceID string, data []byte) []byte {
	if sum <= 1 {
		return append([]byte(nil), data...)
	}

	entry, ok := cache[messageID]
	if !ok {
		entry = &cacheEntry{parts: make([][]byte, sum), traceID: traceID, created: time.Now()}
		cache[messageID] = entry
	}
	if seq >= 0 && seq < len(entry.parts) {
		entry.parts[seq] = append([]byte(nil), data...)
	}

	for _, p := range entry.parts {
		if p == nil {
			return nil
		}
	}
	var merged []byte
	for _, p := range entry.parts {
		merged = append(merged, p...)
	}
	delete(cache, messageID)
	return merged
}

func parseEventJSON(m map[string]any) *TransportEvent {
	header, _ := m["header"].(map[string]any)
	if header == nil {
		return nil
	}
	eventType, _ := header["event_type"].(string)
	if eventType != "im.message.receive_v1" {
		slog.Debug("ignoring feishu event type", "type", eventType)
		return nil
	}

	event, _ := m["event"].(map[string]any)
	if event == nil {
		return nil
	}
	message, _ := event["message"].(map[string]any)
	if message == nil {
		return nil
	}
	chatID, _ := message["chat_id"].(string)
	msgType, _ := message["message_type"].(string)

	senderID := "unknown"
	if sender, ok := event["sender"].(map[string]any); ok {
		if senderIDMap, ok := sender["sender_id"].(map[string]any); ok {
			if openID, ok := senderIDMap["open_id"].(string); ok {
				senderID = openID
			}
		}
	}

	messageID, _ := message["message_id"].(string)
	parentID, _ := message["parent_id"].(string)

	if msgType == "file" || msgType == "image" {
		content, _ := message["content"].(string)
		var c map[string]any
		_ = json.Unmarshal([]byte(content), &c)
		fileKey, _ := c["file_key"].(string)
		if fileKey == "" {
			fileKey, _ = c["image_key"].(string)
		}
		fileName, _ := c["file_name"].(string)
		return &TransportEvent{
			Kind:      TransportFileMessage,
			ConvID:    chatID,
			UserID:    senderID,
			MessageID: messageID,
			FileKey:   fileKey,
			FileName:  fileName,
			ParentID:  parentID,
		}
	}

	if msgType != "text" {
		slog.Debug("ignoring non-text feishu message", "type", msgType)
		return nil
	}

	contentStr, _ := message["content"].(string)
	var content map[string]any
	if err := json.Unmarshal([]byte(contentStr), &content); err != nil {
		return nil
	}
	text, _ := content["text"].(string)

	if parentID != "" {
		slog.Info("feishu reply detected", "parent_id", parentID)
		return &TransportEvent{Kind: TransportReplyMessage, CardMsgID: parentID, Text: text}
	}
	slog.Info("new feishu message", "chat_id", chatID)
	return &TransportEvent{Kind: TransportNewMessage, ConvID: chatID, UserID: senderID, Text: text}
}
