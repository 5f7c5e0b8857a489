package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	ChannelPrint       = "app/print"
	ChannelPrintResult = "app/print-result"
	ChannelTaskStatus  = "app/task-status"
	ChannelRegister    = "app/register"
	ChannelHeartbeat   = "app/heartbeat"
)

// Listener subscribes to the agent channels and feeds every message to the
// Handler. Messages that fail to decode are logged and dropped.
type Listener struct {
	client  *redis.Client
	prefix  string
	handler *Handler
	log     *slog.Logger
}

func NewListener(client *redis.Client, prefix string, handler *Handler, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		client:  client,
		prefix:  prefix,
		handler: handler,
		log:     logger.With("component", "listener"),
	}
}

func (l *Listener) channels() []string {
	names := []string{ChannelPrint, ChannelPrintResult, ChannelTaskStatus, ChannelRegister, ChannelHeartbeat}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = l.prefix + n
	}
	return out
}

// Run subscribes and blocks until ctx is cancelled. It returns an error only
// when the subscription cannot be established.
func (l *Listener) Run(ctx context.Context) error {
	sub := l.client.Subscribe(ctx, l.channels()...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe agent channels: %w", err)
	}
	l.log.Info("listening for agent messages", "channels", l.channels())

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			l.Dispatch(ctx, strings.TrimPrefix(msg.Channel, l.prefix), []byte(msg.Payload))
		}
	}
}

// Dispatch routes one raw payload by its unprefixed channel name.
func (l *Listener) Dispatch(ctx context.Context, channel string, payload []byte) {
	var err error
	switch channel {
	case ChannelPrint:
		var msg SubmitMessage
		if err = json.Unmarshal(payload, &msg); err == nil {
			_, err = l.handler.OnTaskSubmit(ctx, msg)
		}
	case ChannelPrintResult:
		var msg StatusMessage
		if err = json.Unmarshal(payload, &msg); err == nil {
			err = l.handler.OnPrintResult(ctx, msg)
		}
	case ChannelTaskStatus:
		var msg StatusMessage
		if err = json.Unmarshal(payload, &msg); err == nil {
			err = l.handler.OnStatusReport(ctx, msg)
		}
	case ChannelRegister:
		var msg RegisterMessage
		if err = json.Unmarshal(payload, &msg); err == nil {
			_, err = l.handler.OnClientRegister(ctx, msg)
		}
	case ChannelHeartbeat:
		var msg HeartbeatMessage
		if err = json.Unmarshal(payload, &msg); err == nil {
			l.handler.OnHeartbeat(ctx, msg)
		}
	default:
		l.log.Warn("message on unknown channel dropped", "channel", channel)
		return
	}

	if err != nil {
		l.log.Warn("agent message dropped", "channel", channel, "error", err)
	}
}
