package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/orrn/printhub/internal/core"
	"github.com/orrn/printhub/internal/db"
	"github.com/orrn/printhub/internal/notify"
)

type published struct {
	topic   string
	payload any
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic, payload})
	return nil
}

func (p *recordingPublisher) on(topic string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

type fixture struct {
	handler  *Handler
	engine   *core.TaskEngine
	registry *core.ClientRegistry
	pub      *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Open(db.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := &recordingPublisher{}
	fanout := notify.NewFanout(pub, logger)
	registry := core.NewClientRegistry(db.NewClientOperations(database), fanout, core.RegistryConfig{Logger: logger})
	engine := core.NewTaskEngine(db.NewTaskOperations(database), db.NewHistoryOperations(database), registry, fanout,
		core.EngineConfig{Logger: logger})

	return &fixture{
		handler:  NewHandler(engine, registry, fanout, logger),
		engine:   engine,
		registry: registry,
		pub:      pub,
	}
}

func TestOnTaskSubmitDispatchesAndAcks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ack, err := f.handler.OnTaskSubmit(ctx, SubmitMessage{
		OrderID: 9, OrderNo: "NO9", MerchantID: 1, StoreID: 7, Content: "{}",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !ack.Success || ack.TaskID == "" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	if got := f.pub.on("store/7/print-tasks"); len(got) != 1 {
		t.Fatalf("dispatched %d times", len(got))
	}
	acks := f.pub.on(notify.TopicPrintStatus)
	if len(acks) != 1 || acks[0].(SubmitAck).TaskID != ack.TaskID {
		t.Fatalf("print-status acks = %v", acks)
	}

	task, err := f.engine.GetTask(ctx, ack.TaskID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != core.TaskStatusPending {
		t.Fatalf("status = %s", task.Status)
	}
}

func TestOnTaskSubmitRejectsMissingMerchant(t *testing.T) {
	f := newFixture(t)
	ack, err := f.handler.OnTaskSubmit(context.Background(), SubmitMessage{OrderID: 1})
	if !errors.Is(err, ErrMissingField) || ack.Success {
		t.Fatalf("expected ErrMissingField, got %v (%+v)", err, ack)
	}
}

func TestOnTaskSubmitAcksOnClientTopic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ack, err := f.handler.OnTaskSubmit(ctx, SubmitMessage{OrderID: 3, MerchantID: 1, StoreID: 7, ClientID: "C1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if got := f.pub.on(notify.TopicPrintStatus); len(got) != 0 {
		t.Fatalf("ack leaked onto print-status: %v", got)
	}
	replies := f.pub.on("client/C1")
	if len(replies) != 1 {
		t.Fatalf("client replies = %v", replies)
	}
	msg := replies[0].(notify.ClientMessage)
	if msg.Type != TypeSubmitResponse || msg.Data.(SubmitAck).TaskID != ack.TaskID {
		t.Fatalf("unexpected reply %+v", msg)
	}
}

func TestSubmitIgnoresProgressFieldsAndExistingIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := NewListener(nil, "printhub:", f.handler, slog.New(slog.NewTextHandler(io.Discard, nil)))

	l.Dispatch(ctx, ChannelPrint, []byte(`{"taskId":"T1","orderId":500,"merchantId":1,"content":"{}",`+
		`"status":"COMPLETED","retryCount":5,"assignedClientId":"C9","clientId":"C1"}`))
	task, err := f.engine.GetTask(ctx, "T1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != core.TaskStatusPending || task.RetryCount != 0 || task.AssignedClientID != "" {
		t.Fatalf("wire progress fields applied: %+v", task)
	}

	if _, err := f.engine.UpdateStatus(ctx, "T1", core.TaskStatusCompleted, "C1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	ack, err := f.handler.OnTaskSubmit(ctx, SubmitMessage{TaskID: "T1", OrderID: 999, MerchantID: 1, ClientID: "C1"})
	if !errors.Is(err, core.ErrDuplicateTask) || ack.Success {
		t.Fatalf("expected ErrDuplicateTask, got %v (%+v)", err, ack)
	}
	task, _ = f.engine.GetTask(ctx, "T1")
	if task.Status != core.TaskStatusCompleted || task.OrderID != 500 {
		t.Fatalf("completed task overwritten: %+v", task)
	}
}

func TestOnStatusReportCompletesTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task, err := f.engine.Submit(ctx, &core.PrintTask{OrderID: 1, MerchantID: 1, StoreID: 7})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	for _, status := range []string{"printing", "COMPLETED"} {
		if err := f.handler.OnStatusReport(ctx, StatusMessage{TaskID: task.TaskID, Status: status, ClientID: "C1"}); err != nil {
			t.Fatalf("report %s: %v", status, err)
		}
	}

	got, err := f.engine.GetTask(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != core.TaskStatusCompleted || got.AssignedClientID != "C1" || got.PrintTime == nil {
		t.Fatalf("unexpected task %+v", got)
	}
	if events := f.pub.on("store/7/print-status"); len(events) != 2 {
		t.Fatalf("status events = %d", len(events))
	}
}

func TestOnStatusReportErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.handler.OnStatusReport(ctx, StatusMessage{TaskID: "T1", Status: "done", ClientID: "C1"})
	if !errors.Is(err, core.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	err = f.handler.OnStatusReport(ctx, StatusMessage{TaskID: "missing", Status: "COMPLETED", ClientID: "C1"})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := f.pub.on(notify.TopicPrintErrors); len(got) != 2 {
		t.Fatalf("print-errors messages = %d", len(got))
	}

	err = f.handler.OnStatusReport(ctx, StatusMessage{TaskID: "T1", Status: "COMPLETED"})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestOnPrintResultRefreshesClient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.handler.OnClientRegister(ctx, RegisterMessage{ClientID: "C1", ClientName: "till", MerchantID: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	before, _ := f.registry.Get(ctx, "C1")

	task, err := f.engine.Submit(ctx, &core.PrintTask{OrderID: 1, MerchantID: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := f.handler.OnPrintResult(ctx, StatusMessage{TaskID: task.TaskID, Status: "FAILED", ClientID: "C1", ErrorMessage: "paper out"}); err != nil {
		t.Fatalf("print result: %v", err)
	}

	after, _ := f.registry.Get(ctx, "C1")
	if !after.LastActiveTime.After(before.LastActiveTime) {
		t.Fatalf("last active not refreshed: %v -> %v", before.LastActiveTime, after.LastActiveTime)
	}
	got, _ := f.engine.GetTask(ctx, task.TaskID)
	if got.Status != core.TaskStatusFailed || got.ErrorMessage != "paper out" || got.RetryCount != 1 {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestOnClientRegisterRepliesToClientTopic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ack, err := f.handler.OnClientRegister(ctx, RegisterMessage{ClientName: "till", MerchantID: 1, StoreID: 7, IPAddress: "10.0.0.5"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if ack.ClientID == "" || !ack.Success {
		t.Fatalf("unexpected ack %+v", ack)
	}

	replies := f.pub.on(notify.ClientTopic(ack.ClientID))
	if len(replies) != 1 {
		t.Fatalf("replies = %d", len(replies))
	}
	msg := replies[0].(notify.ClientMessage)
	if msg.Type != TypeRegisterResponse {
		t.Fatalf("reply type = %s", msg.Type)
	}

	client, err := f.registry.Get(ctx, ack.ClientID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !client.Online || client.IPAddress != "10.0.0.5" {
		t.Fatalf("unexpected client %+v", client)
	}
}

func TestOnHeartbeatAcksUnknownClient(t *testing.T) {
	f := newFixture(t)
	ack := f.handler.OnHeartbeat(context.Background(), HeartbeatMessage{ClientID: "ghost"})
	if ack.Timestamp == 0 || ack.ServerTime.IsZero() {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if got := f.pub.on(notify.TopicHeartbeat); len(got) != 1 {
		t.Fatalf("heartbeat acks = %d", len(got))
	}
}

func TestDispatchDropsMalformedMessages(t *testing.T) {
	f := newFixture(t)
	l := NewListener(nil, "printhub:", f.handler, slog.New(slog.NewTextHandler(io.Discard, nil)))

	l.Dispatch(context.Background(), ChannelPrint, []byte("{not json"))
	l.Dispatch(context.Background(), "app/unknown", []byte("{}"))

	if got := f.pub.on(notify.TopicPrintStatus); len(got) != 0 {
		t.Fatalf("malformed submit produced %d acks", len(got))
	}
}

func TestListenerOverRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	database, err := db.Open(db.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer database.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fanout := notify.NewFanout(notify.NewRedisPublisher(client, "printhub:"), logger)
	registry := core.NewClientRegistry(db.NewClientOperations(database), fanout, core.RegistryConfig{Logger: logger})
	engine := core.NewTaskEngine(db.NewTaskOperations(database), db.NewHistoryOperations(database), registry, fanout,
		core.EngineConfig{Logger: logger})
	listener := NewListener(client, "printhub:", NewHandler(engine, registry, fanout, logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub("printhub:app/register")["printhub:app/register"] == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("listener never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	reply := client.Subscribe(ctx, "printhub:client/C1")
	defer reply.Close()
	if _, err := reply.Receive(ctx); err != nil {
		t.Fatalf("subscribe reply: %v", err)
	}

	body, _ := json.Marshal(RegisterMessage{ClientID: "C1", ClientName: "till", MerchantID: 1})
	if err := client.Publish(ctx, "printhub:app/register", body).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-reply.Channel():
		var got struct {
			Type string      `json:"type"`
			Data RegisterAck `json:"data"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Type != TypeRegisterResponse || got.Data.ClientID != "C1" {
			t.Fatalf("unexpected reply %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no register response")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("listener did not stop")
	}
}
