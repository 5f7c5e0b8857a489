package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orrn/printhub/internal/core"
	"github.com/orrn/printhub/internal/notify"
)

const (
	TypeRegisterResponse = "REGISTER_RESPONSE"
	TypeSubmitResponse   = "SUBMIT_RESPONSE"
)

var ErrMissingField = errors.New("missing required field")

// SubmitMessage is a task pushed by an agent or a till. Progress fields of
// the task are not accepted from the wire.
type SubmitMessage struct {
	TaskID      string `json:"taskId,omitempty"`
	OrderID     int64  `json:"orderId"`
	OrderNo     string `json:"orderNo"`
	MerchantID  int64  `json:"merchantId"`
	StoreID     int64  `json:"storeId,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Content     string `json:"content"`
	Priority    string `json:"priority,omitempty"`
	PrinterName string `json:"printerName,omitempty"`
	ClientID    string `json:"clientId,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	IPAddress   string `json:"ipAddress,omitempty"`
}

func (m SubmitMessage) task() *core.PrintTask {
	return &core.PrintTask{
		TaskID:      m.TaskID,
		OrderID:     m.OrderID,
		OrderNo:     m.OrderNo,
		MerchantID:  m.MerchantID,
		StoreID:     m.StoreID,
		Kind:        core.TaskKind(m.Kind),
		Content:     m.Content,
		Priority:    core.TaskPriority(m.Priority),
		PrinterName: m.PrinterName,
	}
}

type StatusMessage struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	ClientID     string `json:"clientId"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	IPAddress    string `json:"ipAddress,omitempty"`
}

type RegisterMessage struct {
	ClientID    string `json:"clientId"`
	ClientName  string `json:"clientName"`
	MerchantID  int64  `json:"merchantId"`
	StoreID     int64  `json:"storeId,omitempty"`
	PrinterName string `json:"printerName,omitempty"`
	Version     string `json:"version,omitempty"`
	OSInfo      string `json:"osInfo,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	IPAddress   string `json:"ipAddress,omitempty"`
}

type HeartbeatMessage struct {
	ClientID  string `json:"clientId"`
	SessionID string `json:"sessionId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
}

type SubmitAck struct {
	Success bool   `json:"success"`
	TaskID  string `json:"taskId,omitempty"`
	Message string `json:"message"`
}

type RegisterAck struct {
	Success  bool   `json:"success"`
	ClientID string `json:"clientId"`
	Message  string `json:"message"`
}

type HeartbeatAck struct {
	ClientID   string    `json:"clientId,omitempty"`
	Timestamp  int64     `json:"timestamp"`
	ServerTime time.Time `json:"serverTime"`
}

// Handler is the inbound event surface. Each method runs the engine or
// registry operation for one agent message and publishes the direct reply.
type Handler struct {
	engine   *core.TaskEngine
	registry *core.ClientRegistry
	fanout   *notify.Fanout
	now      core.Clock
	log      *slog.Logger
}

func NewHandler(engine *core.TaskEngine, registry *core.ClientRegistry, fanout *notify.Fanout, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:   engine,
		registry: registry,
		fanout:   fanout,
		now:      time.Now,
		log:      logger.With("component", "gateway"),
	}
}

// OnTaskSubmit creates and dispatches the task. The ack goes to the
// sender's client topic, or to print-status for senders without a client id.
func (h *Handler) OnTaskSubmit(ctx context.Context, msg SubmitMessage) (SubmitAck, error) {
	if msg.MerchantID == 0 {
		err := fmt.Errorf("%w: merchantId", ErrMissingField)
		ack := SubmitAck{TaskID: msg.TaskID, Message: err.Error()}
		h.ackSubmit(ctx, msg.ClientID, ack)
		return ack, err
	}

	created, err := h.engine.Submit(ctx, msg.task())
	if err != nil {
		h.log.Error("task submit failed", "order_id", msg.OrderID, "session_id", msg.SessionID, "error", err)
		ack := SubmitAck{TaskID: msg.TaskID, Message: "submit failed: " + err.Error()}
		h.ackSubmit(ctx, msg.ClientID, ack)
		return ack, err
	}

	ack := SubmitAck{Success: true, TaskID: created.TaskID, Message: "print request received"}
	h.ackSubmit(ctx, msg.ClientID, ack)
	return ack, nil
}

func (h *Handler) ackSubmit(ctx context.Context, clientID string, ack SubmitAck) {
	if clientID != "" {
		h.fanout.SendToClient(ctx, clientID, TypeSubmitResponse, ack)
		return
	}
	h.fanout.Reply(ctx, notify.TopicPrintStatus, ack)
}

// OnPrintResult is a status report that also counts as a heartbeat from
// the reporting client.
func (h *Handler) OnPrintResult(ctx context.Context, msg StatusMessage) error {
	if msg.ClientID != "" {
		if _, err := h.registry.Heartbeat(ctx, msg.ClientID); err != nil && !errors.Is(err, core.ErrNotFound) {
			h.log.Warn("heartbeat from print result failed", "client_id", msg.ClientID, "error", err)
		}
	}
	return h.OnStatusReport(ctx, msg)
}

// OnStatusReport applies a client status report. Failures are answered on
// print-errors.
func (h *Handler) OnStatusReport(ctx context.Context, msg StatusMessage) error {
	if msg.TaskID == "" || msg.Status == "" || msg.ClientID == "" {
		return fmt.Errorf("%w: taskId, status and clientId are required", ErrMissingField)
	}

	status, err := core.ParseTaskStatus(msg.Status)
	if err != nil {
		h.fanout.SendError(ctx, msg.ClientID, err.Error())
		return err
	}

	if _, err := h.engine.ReportStatus(ctx, msg.TaskID, status, msg.ClientID, msg.ErrorMessage); err != nil {
		h.log.Warn("status report failed", "task_id", msg.TaskID, "status", status, "client_id", msg.ClientID, "error", err)
		h.fanout.SendError(ctx, msg.ClientID, fmt.Sprintf("status update for task %s failed: %v", msg.TaskID, err))
		return err
	}
	return nil
}

// OnClientRegister registers the client and sends REGISTER_RESPONSE to its
// private topic.
func (h *Handler) OnClientRegister(ctx context.Context, msg RegisterMessage) (RegisterAck, error) {
	client, err := h.registry.Register(ctx, &core.PrintClient{
		ClientID:    msg.ClientID,
		ClientName:  msg.ClientName,
		MerchantID:  msg.MerchantID,
		StoreID:     msg.StoreID,
		PrinterName: msg.PrinterName,
		IPAddress:   msg.IPAddress,
		Version:     msg.Version,
		OSInfo:      msg.OSInfo,
	})
	if err != nil {
		h.log.Error("client registration failed", "client_id", msg.ClientID, "session_id", msg.SessionID, "error", err)
		h.fanout.SendError(ctx, msg.ClientID, "client registration failed: "+err.Error())
		return RegisterAck{ClientID: msg.ClientID, Message: err.Error()}, err
	}

	ack := RegisterAck{Success: true, ClientID: client.ClientID, Message: "registered"}
	h.fanout.SendToClient(ctx, client.ClientID, TypeRegisterResponse, ack)
	return ack, nil
}

// OnHeartbeat refreshes the client and acks with the server time. Unknown
// clients still get the ack.
func (h *Handler) OnHeartbeat(ctx context.Context, msg HeartbeatMessage) HeartbeatAck {
	if msg.ClientID != "" {
		if _, err := h.registry.Heartbeat(ctx, msg.ClientID); err != nil {
			h.log.Warn("heartbeat failed", "client_id", msg.ClientID, "error", err)
		}
	}

	now := h.now()
	ack := HeartbeatAck{ClientID: msg.ClientID, Timestamp: now.UnixMilli(), ServerTime: now}
	h.fanout.Reply(ctx, notify.TopicHeartbeat, ack)
	return ack
}
