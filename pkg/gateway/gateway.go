// ZeroClaw - personal agent channel runtime
// License: MIT
//
// Copyright (c) 2026 ZeroClaw contributors

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/parziva-1/zeroclaw/pkg/bus"
	"github.com/parziva-1/zeroclaw/pkg/channels"
	"github.com/parziva-1/zeroclaw/pkg/config"
	"github.com/parziva-1/zeroclaw/pkg/logger"
	"github.com/parziva-1/zeroclaw/pkg/utils"
)

const maxWebhookBody = 1 << 20

// Gateway serves the HTTP surface (webhook ingestion and health) and
// dispatches outbound bus messages to their channels, bracketing each
// send with typing indicators when the channel supports them.
type Gateway struct {
	cfg      config.GatewayConfig
	manager  *channels.Manager
	broker   bus.Broker
	ack      *channels.AckSelector
	webhooks map[string]channels.WebhookParser

	// onInbound, when set, observes accepted inbound messages. Used by
	// tests; the default consumer just logs.
	onInbound func(bus.ChannelMessage)
}

func New(cfg config.GatewayConfig, manager *channels.Manager, broker bus.Broker, ack *channels.AckSelector) *Gateway {
	return &Gateway{
		cfg:      cfg,
		manager:  manager,
		broker:   broker,
		ack:      ack,
		webhooks: make(map[string]channels.WebhookParser),
	}
}

// RegisterWebhook exposes POST /webhooks/<name> for a push-based
// channel.
func (g *Gateway) RegisterWebhook(parser channels.WebhookParser) {
	g.webhooks[parser.Name()] = parser
	logger.InfoCF("gateway", "Webhook registered", map[string]interface{}{
		"channel": parser.Name(),
		"path":    "/webhooks/" + parser.Name(),
	})
}

func (g *Gateway) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/webhooks/{channel}", g.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	return r
}

// Run serves HTTP and pumps outbound messages until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           g.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("gateway", "HTTP gateway listening", map[string]interface{}{
			"addr": addr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go g.dispatchOutbound(ctx)
	go g.consumeInbound(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return fmt.Errorf("gateway server: %w", err)
	}
}

func (g *Gateway) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := g.broker.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		g.deliver(ctx, msg)
	}
}

func (g *Gateway) deliver(ctx context.Context, msg bus.SendMessage) {
	ch, ok := g.manager.Get(msg.Channel)
	if !ok {
		logger.WarnCF("gateway", "Outbound message for unknown channel", map[string]interface{}{
			"channel": msg.Channel,
		})
		return
	}
	if typer, ok := ch.(channels.TypingNotifier); ok {
		typer.StartTyping(msg.Recipient)
		defer typer.StopTyping(msg.Recipient)
	}
	if err := ch.Send(ctx, msg); err != nil {
		logger.ErrorCF("gateway", "Outbound send failed", map[string]interface{}{
			"channel":   msg.Channel,
			"recipient": msg.Recipient,
			"error":     err.Error(),
		})
	}
}

// consumeInbound drains accepted inbound messages, records the ack
// decision, and hands them to the observer.
func (g *Gateway) consumeInbound(ctx context.Context) {
	for {
		msg, ok := g.broker.ConsumeInbound(ctx)
		if !ok {
			return
		}
		fields := map[string]interface{}{
			"channel": msg.Channel,
			"sender":  msg.Sender,
			"chat":    msg.ReplyTarget,
			"preview": utils.Truncate(msg.Content, 80),
		}
		if g.ack != nil {
			sel := g.ack.Select(msg.Channel, channels.AckContext{
				Text:     msg.Content,
				SenderID: msg.Sender,
				ChatID:   msg.ReplyTarget,
				ChatType: chatTypeOf(msg.ReplyTarget),
			})
			if !sel.Suppressed {
				fields["ack"] = sel.Emoji
			}
		}
		logger.InfoCF("gateway", "Inbound message", fields)
		if g.onInbound != nil {
			g.onInbound(msg)
		}
	}
}

func chatTypeOf(replyTarget string) string {
	if strings.HasPrefix(replyTarget, "group:") || strings.HasPrefix(replyTarget, "cid") {
		return channels.AckChatGroup
	}
	return channels.AckChatDirect
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["channel"]
	parser, ok := g.webhooks[name]
	if !ok {
		http.Error(w, "unknown webhook channel", http.StatusNotFound)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	msgs := parser.ParseWebhookPayload(payload)
	for _, msg := range msgs {
		g.broker.PublishInbound(msg)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"received": len(msgs),
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	statuses := g.manager.HealthCheck(ctx)
	healthy := true
	for _, ok := range statuses {
		if !ok {
			healthy = false
			break
		}
	}

	status := "ok"
	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   status,
		"channels": statuses,
	})
}
