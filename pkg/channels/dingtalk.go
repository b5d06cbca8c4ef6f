// ZeroClaw - personal agent channel runtime
// License: MIT
//
// Copyright (c) 2026 ZeroClaw contributors

package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parziva-1/zeroclaw/pkg/bus"
	"github.com/parziva-1/zeroclaw/pkg/config"
	"github.com/parziva-1/zeroclaw/pkg/logger"
	"github.com/parziva-1/zeroclaw/pkg/utils"
)

const (
	dingtalkAPIBase       = "https://api.dingtalk.com"
	dingtalkCallbackTopic = "/v1.0/im/bot/messages/get"
	dingtalkReadDeadline  = 90 * time.Second
	dingtalkWebhookCap    = 256
	dingtalkRichTextDepth = 16
)

// DingTalkChannel speaks the DingTalk Stream protocol: it trades app
// credentials for a gateway endpoint plus ticket, holds a websocket on
// that endpoint, and answers SYSTEM pings inline. Outbound messages go
// through the robot REST API with a cached access token.
type DingTalkChannel struct {
	clientID     string
	clientSecret string
	policy       SenderPolicy
	apiBase      string
	client       *http.Client

	tokenMu     sync.RWMutex
	token       string
	tokenExpiry time.Time

	webhookMu       sync.Mutex
	sessionWebhooks *fifoCache

	writeMu sync.Mutex
}

func NewDingTalkChannel(cfg config.DingTalkConfig) (*DingTalkChannel, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("dingtalk: client_id and client_secret are required")
	}
	return &DingTalkChannel{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		policy: SenderPolicy{
			Allowed: cfg.AllowedUsers,
		},
		apiBase:         dingtalkAPIBase,
		client:          &http.Client{Timeout: 30 * time.Second},
		sessionWebhooks: newFIFOCache(dingtalkWebhookCap),
	}, nil
}

func (c *DingTalkChannel) Name() string { return "dingtalk" }

// getAccessToken returns a cached token, refreshing through the OAuth
// endpoint when less than a minute of validity remains.
func (c *DingTalkChannel) getAccessToken(ctx context.Context) (string, error) {
	c.tokenMu.RLock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		token := c.token
		c.tokenMu.RUnlock()
		return token, nil
	}
	c.tokenMu.RUnlock()

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body := map[string]string{
		"appKey":    c.clientID,
		"appSecret": c.clientSecret,
	}
	var result struct {
		AccessToken string `json:"accessToken"`
		ExpireIn    int64  `json:"expireIn"`
	}
	if err := c.postJSON(ctx, c.apiBase+"/v1.0/oauth2/accessToken", "", body, &result); err != nil {
		return "", fmt.Errorf("dingtalk token: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrProtocol)
	}
	c.token = result.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(result.ExpireIn-60) * time.Second)
	return c.token, nil
}

// registerConnection asks the gateway for a websocket endpoint and a
// one-shot ticket.
func (c *DingTalkChannel) registerConnection(ctx context.Context) (string, string, error) {
	body := map[string]interface{}{
		"clientId":     c.clientID,
		"clientSecret": c.clientSecret,
		"subscriptions": []map[string]string{
			{"type": "CALLBACK", "topic": dingtalkCallbackTopic},
		},
	}
	var result struct {
		Endpoint string `json:"endpoint"`
		Ticket   string `json:"ticket"`
	}
	if err := c.postJSON(ctx, c.apiBase+"/v1.0/gateway/connections/open", "", body, &result); err != nil {
		return "", "", fmt.Errorf("dingtalk gateway open: %w", err)
	}
	if result.Endpoint == "" || result.Ticket == "" {
		return "", "", fmt.Errorf("%w: gateway returned no endpoint/ticket", ErrProtocol)
	}
	return result.Endpoint, result.Ticket, nil
}

func (c *DingTalkChannel) Listen(ctx context.Context, sink chan<- bus.ChannelMessage) error {
	endpoint, ticket, err := c.registerConnection(ctx)
	if err != nil {
		return err
	}
	wsURL := endpoint + "?ticket=" + url.QueryEscape(ticket)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dingtalk stream dial: %v", ErrDisconnected, err)
	}
	defer conn.Close()
	logger.InfoC("dingtalk", "Stream connection established")

	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-closed:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(dingtalkReadDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: dingtalk stream ended: %v", ErrDisconnected, err)
		}

		var frame struct {
			Type    string `json:"type"`
			Headers struct {
				MessageID string `json:"messageId"`
				Topic     string `json:"topic"`
			} `json:"headers"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.WarnCF("dingtalk", "Unparseable stream frame", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		switch frame.Type {
		case "SYSTEM":
			// Keepalive; an unanswered ping gets us disconnected.
			if err := c.writeAck(conn, frame.Headers.MessageID); err != nil {
				return fmt.Errorf("%w: dingtalk pong: %v", ErrDisconnected, err)
			}
		case "EVENT", "CALLBACK":
			msg := c.handleCallback(conn, frame.Headers.MessageID, frame.Data)
			if msg == nil {
				continue
			}
			select {
			case sink <- *msg:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// handleCallback parses one inbound bot event, acks it, and returns the
// resulting message, or nil when the event produces nothing.
func (c *DingTalkChannel) handleCallback(conn *websocket.Conn, messageID string, raw json.RawMessage) *bus.ChannelMessage {
	data := parseStreamData(raw)
	if data == nil {
		logger.WarnC("dingtalk", "Callback carried no parseable data")
		return nil
	}

	content := extractDingTalkText(data)
	if content == "" {
		logger.DebugC("dingtalk", "Callback had no text content")
		return nil
	}

	sender := "unknown"
	if s, ok := data["senderStaffId"].(string); ok && s != "" {
		sender = s
	}
	if !c.policy.Admits(sender) {
		logger.WarnCF("dingtalk", "Sender not in allow list, dropping", map[string]interface{}{
			"sender": sender,
		})
		return nil
	}

	chatID := resolveDingTalkChatID(data, sender)
	if webhook, ok := data["sessionWebhook"].(string); ok && webhook != "" {
		c.webhookMu.Lock()
		c.sessionWebhooks.Put(chatID, webhook)
		c.sessionWebhooks.Put(sender, webhook)
		c.webhookMu.Unlock()
	}

	// Ack is best-effort; the frame is already consumed.
	c.writeAck(conn, messageID)

	return &bus.ChannelMessage{
		ID:          uuid.NewString(),
		Sender:      sender,
		ReplyTarget: chatID,
		Content:     content,
		Channel:     c.Name(),
		Timestamp:   time.Now().Unix(),
	}
}

func (c *DingTalkChannel) writeAck(conn *websocket.Conn, messageID string) error {
	ack := map[string]interface{}{
		"code": 200,
		"headers": map[string]string{
			"contentType": "application/json",
			"messageId":   messageID,
		},
		"message": "OK",
		"data":    "",
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(ack)
}

// SessionWebhook returns the reply webhook cached for a chat or sender,
// captured from the most recent inbound event involving them.
func (c *DingTalkChannel) SessionWebhook(target string) (string, bool) {
	c.webhookMu.Lock()
	defer c.webhookMu.Unlock()
	return c.sessionWebhooks.Get(target)
}

func (c *DingTalkChannel) Send(ctx context.Context, msg bus.SendMessage) error {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return err
	}

	title := msg.Subject
	if title == "" {
		title = "ZeroClaw"
	}
	msgParam, err := json.Marshal(map[string]string{
		"title": title,
		"text":  msg.Content,
	})
	if err != nil {
		return err
	}

	var endpoint string
	body := map[string]interface{}{
		"robotCode": c.clientID,
		"msgKey":    "sampleMarkdown",
		"msgParam":  string(msgParam),
	}
	// Group conversation IDs start with "cid"; anything else is a
	// staff ID for a direct message.
	if strings.HasPrefix(msg.Recipient, "cid") {
		endpoint = c.apiBase + "/v1.0/robot/groupMessages/send"
		body["openConversationId"] = msg.Recipient
	} else {
		endpoint = c.apiBase + "/v1.0/robot/oToMessages/batchSend"
		body["userIds"] = []string{msg.Recipient}
	}

	var result struct {
		Errcode *int64 `json:"errcode"`
		Code    *int64 `json:"code"`
		Errmsg  string `json:"errmsg"`
	}
	if err := c.postJSON(ctx, endpoint, token, body, &result); err != nil {
		return err
	}
	if result.Errcode != nil && *result.Errcode != 0 {
		return fmt.Errorf("%w: dingtalk errcode %d: %s", ErrUpstreamRejected, *result.Errcode, result.Errmsg)
	}
	if result.Code != nil && *result.Code != 0 {
		return fmt.Errorf("%w: dingtalk code %d: %s", ErrUpstreamRejected, *result.Code, result.Errmsg)
	}
	logger.DebugCF("dingtalk", "Message sent", map[string]interface{}{
		"recipient": msg.Recipient,
	})
	return nil
}

// HealthCheck verifies that credentials can still open a gateway
// connection.
func (c *DingTalkChannel) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, _, err := c.registerConnection(ctx)
	return err == nil
}

func (c *DingTalkChannel) postJSON(ctx context.Context, endpoint, token string, body, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("x-acs-dingtalk-access-token", token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d: %s", ErrUpstreamRejected, resp.StatusCode, utils.Truncate(string(payload), 200))
	}
	if result != nil {
		if err := json.Unmarshal(payload, result); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrProtocol, err)
		}
	}
	return nil
}

// parseStreamData decodes a frame's data field, which arrives either as
// a JSON object or as a JSON string containing an encoded object.
func parseStreamData(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(asString), &m); err == nil {
			return m
		}
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	return nil
}

// extractDingTalkText pulls the message text from the many shapes
// DingTalk callbacks use: a text field (string or object), a bare
// content field, a rich-text tree, or a markdown payload.
func extractDingTalkText(data map[string]interface{}) string {
	switch v := data["text"].(type) {
	case string:
		var nested map[string]interface{}
		if err := json.Unmarshal([]byte(v), &nested); err == nil {
			if s, ok := nested["content"].(string); ok {
				if t := strings.TrimSpace(s); t != "" {
					return t
				}
			}
		}
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	case map[string]interface{}:
		if s, ok := v["content"].(string); ok {
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
		}
	}

	if s, ok := data["content"].(string); ok {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}

	for _, key := range []string{"richText", "rich_text"} {
		if v, ok := data[key]; ok {
			var fragments []string
			collectRichText(v, &fragments, 0)
			if joined := strings.TrimSpace(strings.Join(fragments, " ")); joined != "" {
				return joined
			}
		}
	}

	if md, ok := data["markdown"].(map[string]interface{}); ok {
		if s, ok := md["text"].(string); ok {
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
		}
	}
	return ""
}

func collectRichText(v interface{}, out *[]string, depth int) {
	if depth > dingtalkRichTextDepth {
		return
	}
	switch node := v.(type) {
	case string:
		if t := strings.TrimSpace(node); t != "" {
			*out = append(*out, t)
		}
	case []interface{}:
		for _, item := range node {
			collectRichText(item, out, depth+1)
		}
	case map[string]interface{}:
		for _, key := range []string{"text", "content"} {
			if s, ok := node[key].(string); ok {
				if t := strings.TrimSpace(s); t != "" {
					*out = append(*out, t)
				}
			}
		}
		for _, key := range []string{"children", "elements", "richText", "rich_text"} {
			if child, ok := node[key]; ok {
				collectRichText(child, out, depth+1)
			}
		}
	}
}

// resolveDingTalkChatID picks the reply target: private chats
// (conversationType "1" or absent) answer the sender directly, group
// chats answer the conversation.
func resolveDingTalkChatID(data map[string]interface{}, sender string) string {
	private := true
	switch v := data["conversationType"].(type) {
	case string:
		private = v == "1"
	case float64:
		private = v == 1
	}
	if private {
		return sender
	}
	if s, ok := data["conversationId"].(string); ok && s != "" {
		return s
	}
	return sender
}
