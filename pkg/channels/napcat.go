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
	"strconv"
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
	napcatDedupCapacity  = 10000
	napcatInitialBackoff = 1 * time.Second
	napcatMaxBackoff     = 60 * time.Second
	napcatReadDeadline   = 120 * time.Second
)

// NapcatChannel connects to a Napcat (OneBot v11) server over a
// persistent websocket for inbound events and calls its HTTP API for
// outbound sends. The websocket reconnects forever with capped
// exponential backoff.
type NapcatChannel struct {
	websocketURL string
	apiBase      string
	accessToken  string
	policy       SenderPolicy
	client       *http.Client

	dedupMu sync.Mutex
	dedup   *dedupSet
}

func NewNapcatChannel(cfg config.NapcatConfig) (*NapcatChannel, error) {
	wsURL := strings.TrimSpace(cfg.WebsocketURL)
	if wsURL == "" {
		return nil, fmt.Errorf("napcat: websocket_url is required")
	}
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if apiBase == "" {
		derived, err := deriveAPIBase(wsURL)
		if err != nil {
			return nil, err
		}
		apiBase = derived
	}
	return &NapcatChannel{
		websocketURL: wsURL,
		apiBase:      apiBase,
		accessToken:  cfg.AccessToken,
		policy: SenderPolicy{
			Allowed:     cfg.AllowedUsers,
			DefaultOpen: true,
		},
		client: &http.Client{Timeout: 30 * time.Second},
		dedup:  newDedupSet(napcatDedupCapacity),
	}, nil
}

// deriveAPIBase maps the websocket URL to the HTTP API it fronts:
// scheme ws becomes http (wss becomes https) and any path is dropped.
func deriveAPIBase(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("napcat: parse websocket_url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
		// Already an HTTP base.
	default:
		return "", fmt.Errorf("napcat: unsupported websocket scheme %q", u.Scheme)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

func (c *NapcatChannel) Name() string { return "napcat" }

func (c *NapcatChannel) Listen(ctx context.Context, sink chan<- bus.ChannelMessage) error {
	backoff := napcatInitialBackoff
	for {
		started := time.Now()
		err := c.listenOnce(ctx, sink)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) >= napcatMaxBackoff {
			backoff = napcatInitialBackoff
		}
		if err != nil {
			logger.WarnCF("napcat", "Connection lost, reconnecting", map[string]interface{}{
				"error":   err.Error(),
				"backoff": backoff.String(),
			})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > napcatMaxBackoff {
			backoff = napcatMaxBackoff
		}
	}
}

func (c *NapcatChannel) listenOnce(ctx context.Context, sink chan<- bus.ChannelMessage) error {
	wsURL, err := c.dialURL()
	if err != nil {
		return err
	}
	header := http.Header{}
	if c.accessToken != "" {
		header.Set("Authorization", "Bearer "+c.accessToken)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("%w: napcat dial: %v", ErrDisconnected, err)
	}
	defer conn.Close()
	logger.InfoC("napcat", "Connected to OneBot event stream")

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

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
		conn.SetReadDeadline(time.Now().Add(napcatReadDeadline))
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: napcat read: %v", ErrDisconnected, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var event map[string]interface{}
		if err := json.Unmarshal(raw, &event); err != nil {
			logger.DebugCF("napcat", "Unparseable event", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		msg := c.parseMessageEvent(event)
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

func (c *NapcatChannel) dialURL() (string, error) {
	u, err := url.Parse(c.websocketURL)
	if err != nil {
		return "", fmt.Errorf("napcat: parse websocket_url: %w", err)
	}
	if c.accessToken != "" {
		q := u.Query()
		if q.Get("access_token") == "" {
			q.Set("access_token", c.accessToken)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}

// parseMessageEvent converts one OneBot event into an inbound message,
// or nil for non-message events, duplicates, unauthorized senders, and
// empty payloads.
func (c *NapcatChannel) parseMessageEvent(event map[string]interface{}) *bus.ChannelMessage {
	if postType, _ := event["post_type"].(string); postType != "message" {
		return nil
	}

	messageID := jsonID(event["message_id"])
	if messageID != "" {
		c.dedupMu.Lock()
		seen := c.dedup.Seen(messageID)
		c.dedupMu.Unlock()
		if seen {
			logger.DebugCF("napcat", "Duplicate event dropped", map[string]interface{}{
				"message_id": messageID,
			})
			return nil
		}
	} else {
		messageID = uuid.NewString()
	}

	sender := "unknown"
	if id := jsonID(event["user_id"]); id != "" {
		sender = id
	} else if nested, ok := event["sender"].(map[string]interface{}); ok {
		if id := jsonID(nested["user_id"]); id != "" {
			sender = id
		}
	}
	if !c.policy.Admits(sender) {
		logger.WarnCF("napcat", "Sender not in allow list, dropping", map[string]interface{}{
			"sender": sender,
		})
		return nil
	}

	content := parseMessageSegments(event["message"])
	if content == "" {
		if raw, ok := event["raw_message"].(string); ok {
			content = strings.TrimSpace(raw)
		}
	}
	if content == "" {
		return nil
	}

	replyTarget := "user:" + sender
	if msgType, _ := event["message_type"].(string); msgType == "group" {
		if gid := jsonID(event["group_id"]); gid != "" {
			replyTarget = "group:" + gid
		}
	}

	timestamp := time.Now().Unix()
	if n, ok := jsonInt64(event["time"]); ok {
		timestamp = n
	}

	return &bus.ChannelMessage{
		ID:          messageID,
		Sender:      sender,
		ReplyTarget: replyTarget,
		Content:     content,
		Channel:     c.Name(),
		Timestamp:   timestamp,
		ThreadTS:    messageID,
	}
}

// parseMessageSegments flattens an OneBot message (a raw CQ string or
// a segment array) to text, with images rendered as [IMAGE:url]
// markers.
func parseMessageSegments(message interface{}) string {
	switch m := message.(type) {
	case string:
		return strings.TrimSpace(m)
	case []interface{}:
		var parts []string
		for _, raw := range m {
			segment, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			segType, _ := segment["type"].(string)
			data, _ := segment["data"].(map[string]interface{})
			switch segType {
			case "text":
				if data != nil {
					if text, ok := data["text"].(string); ok {
						if t := strings.TrimSpace(text); t != "" {
							parts = append(parts, t)
						}
					}
				}
			case "image":
				if data == nil {
					continue
				}
				ref, _ := data["url"].(string)
				if ref == "" {
					ref, _ = data["file"].(string)
				}
				if ref != "" {
					parts = append(parts, "[IMAGE:"+ref+"]")
				}
			}
		}
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}
	return ""
}

// composeOneBotContent turns outbound text back into CQ codes: an
// optional reply reference first, then each [IMAGE:x] line as an image
// code.
func composeOneBotContent(content, replyID string) string {
	var parts []string
	if replyID != "" {
		parts = append(parts, "[CQ:reply,id="+replyID+"]")
	}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[IMAGE:") && strings.HasSuffix(trimmed, "]") {
			ref := trimmed[len("[IMAGE:") : len(trimmed)-1]
			parts = append(parts, "[CQ:image,file="+ref+"]")
			continue
		}
		parts = append(parts, line)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func (c *NapcatChannel) Send(ctx context.Context, msg bus.SendMessage) error {
	payload := composeOneBotContent(msg.Content, msg.ThreadTS)
	if payload == "" {
		return nil
	}

	var endpoint string
	body := map[string]interface{}{"message": payload}
	if gid, ok := strings.CutPrefix(msg.Recipient, "group:"); ok {
		gid = strings.TrimSpace(gid)
		if gid == "" {
			return fmt.Errorf("napcat: empty group id in recipient %q", msg.Recipient)
		}
		endpoint = "/send_group_msg"
		body["group_id"] = gid
	} else {
		uid := strings.TrimSpace(strings.TrimPrefix(msg.Recipient, "user:"))
		if uid == "" {
			return fmt.Errorf("napcat: empty user id in recipient %q", msg.Recipient)
		}
		endpoint = "/send_private_msg"
		body["user_id"] = uid
	}
	return c.postAPI(ctx, endpoint, body)
}

func (c *NapcatChannel) postAPI(ctx context.Context, endpoint string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: napcat status %d: %s", ErrUpstreamRejected, resp.StatusCode, utils.Truncate(string(payload), 200))
	}

	var result struct {
		Retcode *int64 `json:"retcode"`
		Wording string `json:"wording"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(payload, &result); err == nil && result.Retcode != nil && *result.Retcode != 0 {
		detail := result.Wording
		if detail == "" {
			detail = result.Msg
		}
		return fmt.Errorf("%w: napcat retcode %d: %s", ErrUpstreamRejected, *result.Retcode, detail)
	}
	return nil
}

func (c *NapcatChannel) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/get_status", nil)
	if err != nil {
		return false
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// jsonInt64 extracts an integer from a decoded JSON value, accepting
// numbers and numeric strings.
func jsonInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// jsonID renders a JSON id value (number or string) as a string.
func jsonID(v interface{}) string {
	switch n := v.(type) {
	case string:
		return strings.TrimSpace(n)
	case float64:
		return strconv.FormatInt(int64(n), 10)
	case json.Number:
		return n.String()
	}
	return ""
}
