package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/orrn/printhub/internal/core"
	"github.com/orrn/printhub/internal/telemetry"
)

// Publisher delivers one payload to one topic. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type StatusEvent struct {
	TaskID     string          `json:"taskId"`
	Status     core.TaskStatus `json:"status"`
	OrderNo    string          `json:"orderNo"`
	UpdateTime time.Time       `json:"updateTime"`
}

type ClientMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type SystemMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorMessage struct {
	ClientID  string    `json:"clientId,omitempty"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Fanout maps task and client events onto topics. It keeps no state and
// never returns a publish failure to its caller.
type Fanout struct {
	pub Publisher
	now core.Clock
	log *slog.Logger
}

func NewFanout(pub Publisher, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		pub: pub,
		now: time.Now,
		log: logger.With("component", "fanout"),
	}
}

// DispatchTask publishes a new or redelivered task to its store topic, or
// to the merchant topics when the task has no store.
func (f *Fanout) DispatchTask(ctx context.Context, task *core.PrintTask) {
	if task.HasStore() {
		f.publish(ctx, StoreTasksTopic(task.StoreID), task)
		return
	}
	f.publish(ctx, MerchantTasksTopic(task.MerchantID), task)
	f.publish(ctx, TopicPrintTasks, task)
}

// NotifyStatus publishes the compact status event to the store status topic
// and the catch-all status topic.
func (f *Fanout) NotifyStatus(ctx context.Context, task *core.PrintTask) {
	event := StatusEvent{
		TaskID:     task.TaskID,
		Status:     task.Status,
		OrderNo:    task.OrderNo,
		UpdateTime: task.LastUpdateTime,
	}
	if task.HasStore() {
		f.publish(ctx, StoreStatusTopic(task.StoreID), event)
	}
	f.publish(ctx, TopicPrintStatus, event)
}

func (f *Fanout) SystemNotification(ctx context.Context, kind, message string) {
	f.publish(ctx, TopicSystemNotifications, SystemMessage{
		Type:      kind,
		Message:   message,
		Timestamp: f.now(),
	})
}

func (f *Fanout) SendToClient(ctx context.Context, clientID, kind string, data any) {
	f.publish(ctx, ClientTopic(clientID), ClientMessage{
		Type:      kind,
		Data:      data,
		Timestamp: f.now(),
	})
}

func (f *Fanout) SendError(ctx context.Context, clientID, message string) {
	f.publish(ctx, TopicPrintErrors, ErrorMessage{
		ClientID:  clientID,
		Error:     message,
		Timestamp: f.now(),
	})
}

// Reply publishes an arbitrary payload, used for acks on fixed topics.
func (f *Fanout) Reply(ctx context.Context, topic string, payload any) {
	f.publish(ctx, topic, payload)
}

func (f *Fanout) publish(ctx context.Context, topic string, payload any) {
	if err := f.pub.Publish(ctx, topic, payload); err != nil {
		telemetry.PublishFailures.Inc()
		f.log.Warn("publish failed, dropping message", "topic", topic, "error", err)
	}
}
