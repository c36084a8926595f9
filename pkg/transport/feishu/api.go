package feishu

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"myagent/pkg/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const baseURL = "https://open.feishu.cn/open-apis"

// Feishu error codes that mean the tenant token needs refreshing.
const (
	codeTokenInvalid = 99991663
	codeTokenExpired = 99991661
)

// API is the Feishu (Lark) HTTP client: tenant-token cache/refresh, message
// send/reply/update, file upload/download, and the CardKit streaming-card
// endpoints.
type API struct {
	http      *http.Client
	base      string
	appID     string
	appSecret string

	mu    sync.RWMutex
	token string

	seq atomic.Int64
}

// NewAPI builds a client from the configured Feishu credentials.
func NewAPI(cfg config.FeishuConfig) *API {
	return &API{
		http:      &http.Client{Timeout: 30 * time.Second},
		base:      baseURL,
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
	}
}

func (a *API) nextSeq() int64 {
	return a.seq.Add(1)
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
}

func (a *API) getToken() (string, error) {
	a.mu.RLock()
	t := a.token
	a.mu.RUnlock()
	if t != "" {
		return t, nil
	}
	return a.refreshToken()
}

func (a *API) invalidateAndRefresh() (string, error) {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
	return a.refreshToken()
}

func (a *API) refreshToken() (string, error) {
	body, _ := json.Marshal(map[string]string{"app_id": a.appID, "app_secret": a.appSecret})
	resp, err := a.http.Post(a.base+"/auth/v3/tenant_access_token/internal", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("feishu: request token: %w", err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("feishu: decode token response: %w", err)
	}
	if tr.Code != 0 {
		return "", fmt.Errorf("feishu: get tenant token failed: %s (code=%d)", tr.Msg, tr.Code)
	}
	if tr.TenantAccessToken == "" {
		return "", fmt.Errorf("feishu: no token in response")
	}

	a.mu.Lock()
	a.token = tr.TenantAccessToken
	a.mu.Unlock()
	slog.Debug("feishu tenant token refreshed")
	return tr.TenantAccessToken, nil
}

func isTokenError(code int) bool {
	return code == codeTokenInvalid || code == codeTokenExpired
}

// jsonCall performs method on url with the given bearer token and JSON body,
// decoding the response into out.
func (a *API) jsonCall(method, url, token string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

type apiResult struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (r apiResult) result() apiResult { return r }

// call performs a token-authenticated JSON API call, retrying once with a
// refreshed token if the response reports a token-invalid/expired code.
func (a *API) call(method, path string, body any, out apiResultLike) error {
	token, err := a.getToken()
	if err != nil {
		return err
	}
	url := a.base + path
	if err := a.jsonCall(method, url, token, body, out); err != nil {
		return err
	}
	if isTokenError(out.result().Code) {
		slog.Warn("feishu token expired, refreshing", "path", path)
		newToken, err := a.invalidateAndRefresh()
		if err != nil {
			return err
		}
		if err := a.jsonCall(method, url, newToken, body, out); err != nil {
			return err
		}
	}
	if out.result().Code != 0 {
		return fmt.Errorf("feishu: api %s failed: %s (code=%d)", path, out.result().Msg, out.result().Code)
	}
	return nil
}

type apiResultLike interface {
	result() apiResult
}

type sendMessageResponse struct {
	apiResult
	Data struct {
		MessageID string `json:"message_id"`
	} `json:"data"`
}

// SendMessage sends content (msgType, e.g. "text"/"interactive") to a chat.
func (a *API) SendMessage(chatID, msgType string, content any) (string, error) {
	return a.SendMessageWithIDType(chatID, msgType, content, "chat_id")
}

// SendMessageWithIDType sends content using an explicit receive_id_type
// ("chat_id", "open_id", "user_id", ...).
func (a *API) SendMessageWithIDType(receiveID, msgType string, content any, receiveIDType string) (string, error) {
	contentStr, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	body := map[string]any{
		"receive_id": receiveID,
		"msg_type":   msgType,
		"content":    string(contentStr),
	}
	var resp sendMessageResponse
	if err := a.call(http.MethodPost, fmt.Sprintf("/im/v1/messages?receive_id_type=%s", receiveIDType), body, &resp); err != nil {
		return "", err
	}
	slog.Debug("sent feishu message", "message_id", resp.Data.MessageID)
	return resp.Data.MessageID, nil
}

// ReplyMessage replies to a specific message by its message_id.
func (a *API) ReplyMessage(msgID, msgType string, content any) (string, error) {
	contentStr, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	body := map[string]any{
		"msg_type": msgType,
		"content":  string(contentStr),
	}
	var resp sendMessageResponse
	if err := a.call(http.MethodPost, fmt.Sprintf("/im/v1/messages/%s/reply", msgID), body, &resp); err != nil {
		return "", err
	}
	return resp.Data.MessageID, nil
}

// UpdateMessage replaces the content of an already-sent text/interactive
// message.
func (a *API) UpdateMessage(msgID string, content any) error {
	contentStr, err := json.Marshal(content)
	if err != nil {
		return err
	}
	body := map[string]any{"content": string(contentStr)}
	var resp apiResultWrapper
	return a.call(http.MethodPatch, fmt.Sprintf("/im/v1/messages/%s", msgID), body, &resp)
}

type apiResultWrapper struct {
	apiResult
}

// ── File APIs ──

// UploadFile uploads a local file and returns its file_key.
func (a *API) UploadFile(filePath, fileType string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	fileName := filepath.Base(filePath)

	upload := func(token string) (*http.Response, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		mw.WriteField("file_type", fileType)
		mw.WriteField("file_name", fileName)
		part, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequest(http.MethodPost, a.base+"/im/v1/files", &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return a.http.Do(req)
	}

	token, err := a.getToken()
	if err != nil {
		return "", err
	}
	resp, err := upload(token)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var result struct {
		apiResult
		Data struct {
			FileKey string `json:"file_key"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	if isTokenError(result.Code) {
		slog.Warn("feishu token expired on upload_file, refreshing")
		newToken, err := a.invalidateAndRefresh()
		if err != nil {
			return "", err
		}
		resp, err := upload(newToken)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		var retry struct {
			apiResult
			Data struct {
				FileKey string `json:"file_key"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&retry); err != nil {
			return "", err
		}
		if retry.Code != 0 {
			return "", fmt.Errorf("feishu: upload file failed: %s (code=%d)", retry.Msg, retry.Code)
		}
		return retry.Data.FileKey, nil
	}

	if result.Code != 0 {
		return "", fmt.Errorf("feishu: upload file failed: %s (code=%d)", result.Msg, result.Code)
	}
	slog.Debug("uploaded feishu file", "file_key", result.Data.FileKey)
	return result.Data.FileKey, nil
}

// DownloadFile downloads a file the bot itself previously uploaded.
func (a *API) DownloadFile(fileKey string) ([]byte, error) {
	return a.downloadURL(fmt.Sprintf("%s/im/v1/files/%s", a.base, fileKey))
}

// DownloadMessageResource downloads a file/image attached to a user-sent
// message.
func (a *API) DownloadMessageResource(messageID, fileKey, resourceType string) ([]byte, error) {
	url := fmt.Sprintf("%s/im/v1/messages/%s/resources/%s?type=%s", a.base, messageID, fileKey, resourceType)
	return a.downloadURL(url)
}

func (a *API) downloadURL(url string) ([]byte, error) {
	token, err := a.getToken()
	if err != nil {
		return nil, err
	}
	do := func(tok string) (*http.Response, error) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		return a.http.Do(req)
	}

	resp, err := do(token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		slog.Warn("feishu token expired on download, refreshing")
		newToken, err := a.invalidateAndRefresh()
		if err != nil {
			return nil, err
		}
		resp, err = do(newToken)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feishu: download failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// SendFileMessage sends an already-uploaded file by its file_key.
func (a *API) SendFileMessage(chatID, fileKey string) (string, error) {
	return a.SendMessage(chatID, "file", map[string]string{"file_key": fileKey})
}

// ListMessages returns up to pageSize messages from a chat, newest first.
func (a *API) ListMessages(chatID string, pageSize int, pageToken string) (items []jsoniter.RawMessage, hasMore bool, nextPageToken string, err error) {
	token, tErr := a.getToken()
	if tErr != nil {
		return nil, false, "", tErr
	}
	url := fmt.Sprintf("%s/im/v1/messages?container_id_type=chat&container_id=%s&page_size=%d&sort_type=ByCreateTimeDesc",
		a.base, chatID, pageSize)
	if pageToken != "" {
		url += "&page_token=" + pageToken
	}

	fetch := func(tok string) (*listMessagesResponse, error) {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := a.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		var lr listMessagesResponse
		if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
			return nil, err
		}
		return &lr, nil
	}

	lr, err := fetch(token)
	if err != nil {
		return nil, false, "", err
	}
	if isTokenError(lr.Code) {
		newToken, rErr := a.invalidateAndRefresh()
		if rErr != nil {
			return nil, false, "", rErr
		}
		lr, err = fetch(newToken)
		if err != nil {
			return nil, false, "", err
		}
	}
	if lr.Code != 0 {
		return nil, false, "", fmt.Errorf("feishu: list_messages failed: %s (code=%d)", lr.Msg, lr.Code)
	}
	return lr.Data.Items, lr.Data.HasMore, lr.Data.PageToken, nil
}

type listMessagesResponse struct {
	apiResult
	Data struct {
		Items     []jsoniter.RawMessage `json:"items"`
		HasMore   bool              `json:"has_more"`
		PageToken string            `json:"page_token"`
	} `json:"data"`
}

// ── CardKit APIs ──

// CreateCard creates a card entity from cardJSON, returning its card_id.
func (a *API) CreateCard(cardJSON string) (string, error) {
	body := map[string]string{"type": "card_json", "data": cardJSON}
	var resp struct {
		apiResult
		Data struct {
			CardID string `json:"card_id"`
		} `json:"data"`
	}
	if err := a.call(http.MethodPost, "/cardkit/v1/cards", body, &resp); err != nil {
		return "", err
	}
	if resp.Data.CardID == "" {
		return "", fmt.Errorf("feishu: no card_id in create_card response")
	}
	slog.Debug("created feishu card", "card_id", resp.Data.CardID)
	return resp.Data.CardID, nil
}

// UpdateCard full-replaces a card entity's content (used after streaming
// completes, to rewrite the header/footer).
func (a *API) UpdateCard(cardID, cardJSON string) error {
	body := map[string]any{
		"card":     map[string]string{"type": "card_json", "data": cardJSON},
		"sequence": a.nextSeq(),
	}
	var resp apiResultWrapper
	return a.call(http.MethodPut, fmt.Sprintf("/cardkit/v1/cards/%s", cardID), body, &resp)
}

// StreamingUpdateText pushes incremental text content to a streaming-mode
// card element (the typewriter effect).
func (a *API) StreamingUpdateText(cardID, elementID, content string) error {
	body := map[string]any{"content": content, "sequence": a.nextSeq()}
	var resp apiResultWrapper
	return a.call(http.MethodPut, fmt.Sprintf("/cardkit/v1/cards/%s/elements/%s/content", cardID, elementID), body, &resp)
}

// UpdateCardSettings patches card-level settings (e.g. closing
// streaming_mode once the turn is done).
func (a *API) UpdateCardSettings(cardID, settingsJSON string) error {
	body := map[string]any{"settings": settingsJSON, "sequence": a.nextSeq()}
	var resp apiResultWrapper
	return a.call(http.MethodPatch, fmt.Sprintf("/cardkit/v1/cards/%s/settings", cardID), body, &resp)
}

// CreateCardElement inserts new elements into a card relative to
// targetElementID.
func (a *API) CreateCardElement(cardID, insertType, targetElementID, elementsJSON string) error {
	body := map[string]any{
		"type":              insertType,
		"target_element_id": targetElementID,
		"elements":          elementsJSON,
		"sequence":          a.nextSeq(),
	}
	var resp apiResultWrapper
	return a.call(http.MethodPost, fmt.Sprintf("/cardkit/v1/cards/%s/elements", cardID), body, &resp)
}
