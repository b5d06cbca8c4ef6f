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

	"github.com/parziva-1/zeroclaw/pkg/bus"
	"github.com/parziva-1/zeroclaw/pkg/config"
	"github.com/parziva-1/zeroclaw/pkg/logger"
	"github.com/parziva-1/zeroclaw/pkg/utils"
)

const (
	bbFromMeCacheMax = 500
	bbTypingInterval = 4 * time.Second
	bbRequestTimeout = 30 * time.Second
)

// BlueBubblesChannel bridges iMessage through a BlueBubbles server.
// Inbound traffic arrives as webhook pushes handled by
// ParseWebhookPayload; outbound goes through the server's REST API with
// markdown rendered to attributedBody runs.
type BlueBubblesChannel struct {
	serverURL string
	password  string
	policy    SenderPolicy
	client    *http.Client

	// fromMe caches bodies of our own outbound messages so replies to
	// them can quote the original.
	cacheMu sync.Mutex
	fromMe  *fifoCache

	typingMu       sync.Mutex
	typing         map[string]*typingLoop
	typingInterval time.Duration
}

// typingLoop is one running indicator refresh loop; done closes when
// the loop has fully exited.
type typingLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewBlueBubblesChannel(cfg config.BlueBubblesConfig) (*BlueBubblesChannel, error) {
	serverURL := strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if serverURL == "" {
		return nil, fmt.Errorf("bluebubbles: server_url is required")
	}
	return &BlueBubblesChannel{
		serverURL: serverURL,
		password:  cfg.Password,
		policy: SenderPolicy{
			Allowed:     cfg.AllowedSenders,
			Ignored:     cfg.IgnoreSenders,
			DefaultOpen: true,
			FoldCase:    true,
		},
		client:         &http.Client{Timeout: bbRequestTimeout},
		fromMe:         newFIFOCache(bbFromMeCacheMax),
		typing:         make(map[string]*typingLoop),
		typingInterval: bbTypingInterval,
	}, nil
}

func (c *BlueBubblesChannel) Name() string { return "bluebubbles" }

// Listen keeps the channel registered; inbound delivery happens via the
// webhook endpoint, not a long-lived connection.
func (c *BlueBubblesChannel) Listen(ctx context.Context, sink chan<- bus.ChannelMessage) error {
	logger.InfoCF("bluebubbles", "BlueBubbles channel active (webhook mode)", map[string]interface{}{
		"server": c.serverURL,
	})
	<-ctx.Done()
	c.stopAllTyping()
	return nil
}

// ParseWebhookPayload decodes one webhook push into zero or more
// inbound messages. Payloads that are self-sent, unauthorized, empty,
// or not new-message events produce nothing.
func (c *BlueBubblesChannel) ParseWebhookPayload(payload []byte) []bus.ChannelMessage {
	var envelope struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		logger.WarnCF("bluebubbles", "Unparseable webhook payload", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	if envelope.Type != "new-message" || envelope.Data == nil {
		logger.DebugCF("bluebubbles", "Ignoring webhook event", map[string]interface{}{
			"type": envelope.Type,
		})
		return nil
	}
	data := envelope.Data

	if jsonBool(data["isFromMe"]) || jsonBool(data["is_from_me"]) {
		c.cacheOwnMessage(data)
		return nil
	}

	sender := extractBBSender(data)
	if sender == "" {
		logger.DebugC("bluebubbles", "Webhook message has no sender handle")
		return nil
	}
	if c.policy.IsIgnored(sender) {
		logger.DebugCF("bluebubbles", "Sender ignored", map[string]interface{}{"sender": sender})
		return nil
	}
	if !c.policy.IsAllowed(sender) {
		logger.WarnCF("bluebubbles", "Sender not in allow list, dropping", map[string]interface{}{
			"sender": sender,
		})
		return nil
	}

	content := extractBBContent(data)
	if content == "" {
		logger.DebugC("bluebubbles", "Webhook message has no content")
		return nil
	}
	if guid := extractBBReplyGUID(data); guid != "" {
		if body, ok := c.lookupOwnMessage(guid); ok && body != "" {
			content = "[In reply to: " + body + "]\n" + content
		}
	}

	replyTarget := extractBBChatGUID(data)
	if replyTarget == "" {
		replyTarget = sender
	}
	id := extractBBMessageID(data)
	if id == "" {
		id = uuid.NewString()
	}

	return []bus.ChannelMessage{{
		ID:          id,
		Sender:      sender,
		ReplyTarget: replyTarget,
		Content:     content,
		Channel:     c.Name(),
		Timestamp:   extractBBTimestamp(data),
	}}
}

func (c *BlueBubblesChannel) cacheOwnMessage(data map[string]interface{}) {
	id := extractBBMessageID(data)
	if id == "" {
		return
	}
	body := firstStringField(data, "text", "body")
	c.cacheMu.Lock()
	c.fromMe.Put(id, strings.TrimSpace(body))
	c.cacheMu.Unlock()
}

func (c *BlueBubblesChannel) lookupOwnMessage(guid string) (string, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	return c.fromMe.Get(guid)
}

func (c *BlueBubblesChannel) Send(ctx context.Context, msg bus.SendMessage) error {
	content, effectID := extractMessageEffect(msg.Content)
	runs := markdownToAttributedBody(content)
	var plain strings.Builder
	for _, run := range runs {
		plain.WriteString(run.Text)
	}

	body := map[string]interface{}{
		"chatGuid":       msg.Recipient,
		"tempGuid":       uuid.NewString(),
		"message":        plain.String(),
		"method":         "private-api",
		"attributedBody": runs,
	}
	if effectID != "" {
		body["effectId"] = effectID
	}

	resp, err := c.post(ctx, "/api/v1/message/text", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: bluebubbles send status %d: %s", ErrUpstreamRejected, resp.StatusCode, utils.Truncate(string(detail), 200))
	}
	logger.DebugCF("bluebubbles", "Message sent", map[string]interface{}{
		"chat": msg.Recipient,
	})
	return nil
}

// StartTyping shows a typing indicator in the chat and refreshes it
// every few seconds until StopTyping. Starting again for the same chat
// replaces the previous loop rather than stacking.
func (c *BlueBubblesChannel) StartTyping(recipient string) error {
	c.StopTyping(recipient)

	ctx, cancel := context.WithCancel(context.Background())
	loop := &typingLoop{cancel: cancel, done: make(chan struct{})}
	c.typingMu.Lock()
	c.typing[recipient] = loop
	c.typingMu.Unlock()

	go func() {
		defer close(loop.done)
		path := "/api/v1/chat/" + url.PathEscape(recipient) + "/typing"
		for {
			resp, err := c.post(ctx, path, nil)
			if err == nil {
				resp.Body.Close()
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.typingInterval):
			}
		}
	}()
	return nil
}

func (c *BlueBubblesChannel) StopTyping(recipient string) error {
	c.typingMu.Lock()
	loop, ok := c.typing[recipient]
	if ok {
		delete(c.typing, recipient)
	}
	c.typingMu.Unlock()
	if ok {
		loop.cancel()
		<-loop.done
	}
	return nil
}

func (c *BlueBubblesChannel) stopAllTyping() {
	c.typingMu.Lock()
	loops := make([]*typingLoop, 0, len(c.typing))
	for chat, loop := range c.typing {
		loops = append(loops, loop)
		delete(c.typing, chat)
	}
	c.typingMu.Unlock()
	for _, loop := range loops {
		loop.cancel()
		<-loop.done
	}
}

func (c *BlueBubblesChannel) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL("/api/v1/ping"), nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func (c *BlueBubblesChannel) apiURL(path string) string {
	return c.serverURL + path + "?password=" + url.QueryEscape(c.password)
}

func (c *BlueBubblesChannel) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(path), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return resp, nil
}

// --- webhook payload extraction ---

// normalizeHandle canonicalizes an iMessage handle: service prefixes
// (imessage:, sms:, auto:) are stripped repeatedly, emails are
// lowercased, and phone numbers lose embedded whitespace.
func normalizeHandle(raw string) string {
	h := strings.TrimSpace(raw)
	for {
		lower := strings.ToLower(h)
		stripped := false
		for _, prefix := range []string{"imessage:", "sms:", "auto:"} {
			if strings.HasPrefix(lower, prefix) {
				h = strings.TrimSpace(h[len(prefix):])
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	if strings.Contains(h, "@") {
		return strings.ToLower(h)
	}
	return strings.Join(strings.Fields(h), "")
}

func extractBBSender(data map[string]interface{}) string {
	for _, key := range []string{"handle", "sender"} {
		nested, ok := data[key].(map[string]interface{})
		if !ok {
			continue
		}
		for _, field := range []string{"address", "handle", "id"} {
			if s, ok := nested[field].(string); ok {
				if h := normalizeHandle(s); h != "" {
					return h
				}
			}
		}
	}
	for _, key := range []string{"senderId", "sender", "from"} {
		if s, ok := data[key].(string); ok {
			if h := normalizeHandle(s); h != "" {
				return h
			}
		}
	}
	return ""
}

func extractBBChatGUID(data map[string]interface{}) string {
	guidKeys := []string{"chatGuid", "chat_guid", "guid"}
	for _, key := range guidKeys[:2] {
		if s, ok := data[key].(string); ok && s != "" {
			return s
		}
	}
	for _, key := range []string{"chat", "conversation"} {
		if nested, ok := data[key].(map[string]interface{}); ok {
			for _, field := range guidKeys {
				if s, ok := nested[field].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	if chats, ok := data["chats"].([]interface{}); ok && len(chats) > 0 {
		if first, ok := chats[0].(map[string]interface{}); ok {
			for _, field := range guidKeys {
				if s, ok := first[field].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func extractBBMessageID(data map[string]interface{}) string {
	for _, key := range []string{"guid", "id", "messageId"} {
		if s, ok := data[key].(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func extractBBReplyGUID(data map[string]interface{}) string {
	if nested, ok := data["replyMessage"].(map[string]interface{}); ok {
		if s, ok := nested["guid"].(string); ok && s != "" {
			return s
		}
	}
	if s, ok := data["associatedMessageGuid"].(string); ok {
		return s
	}
	return ""
}

// extractBBContent joins the text body with placeholders for any
// attachments, e.g. "<media:image> (2 images)".
func extractBBContent(data map[string]interface{}) string {
	var parts []string
	if text := strings.TrimSpace(firstStringField(data, "text", "body", "subject")); text != "" {
		parts = append(parts, text)
	}
	if placeholder := attachmentPlaceholder(data["attachments"]); placeholder != "" {
		parts = append(parts, placeholder)
	}
	return strings.Join(parts, "\n")
}

func attachmentPlaceholder(raw interface{}) string {
	attachments, ok := raw.([]interface{})
	if !ok || len(attachments) == 0 {
		return ""
	}
	tag, label := "attachment", "attachment"
	switch {
	case allAttachmentsMatch(attachments, "image/"):
		tag, label = "image", "image"
	case allAttachmentsMatch(attachments, "video/"):
		tag, label = "video", "video"
	case allAttachmentsMatch(attachments, "audio/"):
		tag, label = "audio", "audio"
	}
	count := len(attachments)
	if count == 1 {
		return fmt.Sprintf("<media:%s> (1 %s)", tag, label)
	}
	return fmt.Sprintf("<media:%s> (%d %ss)", tag, count, label)
}

func allAttachmentsMatch(attachments []interface{}, mimePrefix string) bool {
	for _, raw := range attachments {
		att, ok := raw.(map[string]interface{})
		if !ok {
			return false
		}
		mime, _ := att["mimeType"].(string)
		if mime == "" {
			mime, _ = att["mime_type"].(string)
		}
		if !strings.HasPrefix(mime, mimePrefix) {
			return false
		}
	}
	return true
}

// extractBBTimestamp returns a unix-seconds timestamp; BlueBubbles
// reports milliseconds, which are scaled down.
func extractBBTimestamp(data map[string]interface{}) int64 {
	for _, key := range []string{"dateCreated", "date", "timestamp"} {
		if n, ok := jsonInt64(data[key]); ok {
			if n > 1_000_000_000_000 {
				n /= 1000
			}
			return n
		}
	}
	return time.Now().Unix()
}

func firstStringField(data map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := data[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func jsonBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

// --- outbound formatting ---

// attributedRun is one styled span of an iMessage attributedBody.
type attributedRun struct {
	Text       string          `json:"string"`
	Attributes map[string]bool `json:"attributes"`
}

// markdownToAttributedBody renders a markdown subset to styled runs:
// **bold**, *italic*, __underline__, ~~strike~~, `code` as bold,
// # headers as bold to end of line. Fenced code blocks come through as
// plain text with the fence markers stripped.
func markdownToAttributedBody(text string) []attributedRun {
	var runs []attributedRun
	var buf strings.Builder
	var bold, italic, underline, strike, inlineCode bool

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		attrs := map[string]bool{}
		if bold || inlineCode {
			attrs["bold"] = true
		}
		if italic {
			attrs["italic"] = true
		}
		if underline {
			attrs["underline"] = true
		}
		if strike {
			attrs["strikethrough"] = true
		}
		runs = append(runs, attributedRun{Text: buf.String(), Attributes: attrs})
		buf.Reset()
	}

	chars := []rune(text)
	lineStart := true
	inFence := false
	for i := 0; i < len(chars); {
		if lineStart && !inFence && chars[i] == '#' {
			j := i
			for j < len(chars) && chars[j] == '#' {
				j++
			}
			// A header needs a space after the marker run; "#hashtag"
			// stays plain.
			if j < len(chars) && chars[j] == ' ' {
				flush()
				for j < len(chars) && chars[j] == ' ' {
					j++
				}
				start := j
				for j < len(chars) && chars[j] != '\n' {
					j++
				}
				if j > start {
					headerBold := bold
					bold = true
					buf.WriteString(string(chars[start:j]))
					flush()
					bold = headerBold
				}
				i = j
				lineStart = false
				continue
			}
		}
		if i+2 < len(chars) && chars[i] == '`' && chars[i+1] == '`' && chars[i+2] == '`' {
			flush()
			i += 3
			if !inFence {
				// Drop the language tag on the opening fence line.
				for i < len(chars) && chars[i] != '\n' {
					i++
				}
				if i < len(chars) {
					i++
				}
			}
			inFence = !inFence
			lineStart = true
			continue
		}
		if inFence {
			if chars[i] == '\n' {
				lineStart = true
			} else {
				lineStart = false
			}
			buf.WriteRune(chars[i])
			i++
			continue
		}
		if i+1 < len(chars) && chars[i] == '*' && chars[i+1] == '*' {
			flush()
			bold = !bold
			i += 2
			lineStart = false
			continue
		}
		if i+1 < len(chars) && chars[i] == '~' && chars[i+1] == '~' {
			flush()
			strike = !strike
			i += 2
			lineStart = false
			continue
		}
		if i+1 < len(chars) && chars[i] == '_' && chars[i+1] == '_' {
			flush()
			underline = !underline
			i += 2
			lineStart = false
			continue
		}
		if chars[i] == '*' {
			flush()
			italic = !italic
			i++
			lineStart = false
			continue
		}
		if chars[i] == '`' {
			flush()
			inlineCode = !inlineCode
			i++
			lineStart = false
			continue
		}
		lineStart = chars[i] == '\n'
		buf.WriteRune(chars[i])
		i++
	}
	flush()
	return runs
}

// Apple expressive-send identifiers keyed by the friendly names
// accepted in [EFFECT:name] tags.
var messageEffects = map[string]string{
	"slam":          "com.apple.MobileSMS.expressivesend.impact",
	"loud":          "com.apple.MobileSMS.expressivesend.loud",
	"gentle":        "com.apple.MobileSMS.expressivesend.gentle",
	"invisible-ink": "com.apple.MobileSMS.expressivesend.invisibleink",
	"echo":          "com.apple.messages.effect.CKEchoEffect",
	"spotlight":     "com.apple.messages.effect.CKSpotlightEffect",
	"balloons":      "com.apple.messages.effect.CKHappyBirthdayEffect",
	"confetti":      "com.apple.messages.effect.CKConfettiEffect",
	"love":          "com.apple.messages.effect.CKHeartEffect",
	"heart":         "com.apple.messages.effect.CKHeartEffect",
	"hearts":        "com.apple.messages.effect.CKHeartEffect",
	"lasers":        "com.apple.messages.effect.CKLasersEffect",
	"fireworks":     "com.apple.messages.effect.CKFireworksEffect",
	"celebration":   "com.apple.messages.effect.CKSparklesEffect",
}

// extractMessageEffect pulls the last [EFFECT:name] tag out of text
// and resolves it to an Apple effect identifier. Raw com.apple.*
// identifiers pass through; unknown names drop the effect but the tag
// is always removed.
func extractMessageEffect(text string) (string, string) {
	const marker = "[EFFECT:"
	start := strings.LastIndex(text, marker)
	if start < 0 {
		return text, ""
	}
	end := strings.Index(text[start:], "]")
	if end < 0 {
		return text, ""
	}
	end += start
	name := strings.TrimSpace(text[start+len(marker) : end])
	cleaned := strings.TrimSpace(text[:start] + text[end+1:])

	if strings.HasPrefix(name, "com.apple.") {
		return cleaned, name
	}
	if id, ok := messageEffects[strings.ToLower(name)]; ok {
		return cleaned, id
	}
	return cleaned, ""
}
