package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidStatus  = errors.New("invalid status")
	ErrDuplicateOrder = errors.New("order already has a print task")
	ErrDuplicateTask  = errors.New("task already exists")
	ErrTransientIO    = errors.New("transient io failure")
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusPrinting  TaskStatus = "PRINTING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// ParseTaskStatus maps a client supplied token onto one of the four task
// states. Matching is case-insensitive.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case TaskStatusPending:
		return TaskStatusPending, nil
	case TaskStatusPrinting:
		return TaskStatusPrinting, nil
	case TaskStatusCompleted:
		return TaskStatusCompleted, nil
	case TaskStatusFailed:
		return TaskStatusFailed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

type TaskKind string

const (
	TaskKindOrder  TaskKind = "ORDER"
	TaskKindRefund TaskKind = "REFUND"
)

type TaskPriority string

const (
	PriorityHigh   TaskPriority = "HIGH"
	PriorityMedium TaskPriority = "MEDIUM"
	PriorityLow    TaskPriority = "LOW"
)

type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "SUCCESS"
	HistoryFailed  HistoryStatus = "FAILED"
)

type PrintTask struct {
	TaskID           string       `json:"taskId"`
	OrderID          int64        `json:"orderId"`
	OrderNo          string       `json:"orderNo"`
	MerchantID       int64        `json:"merchantId"`
	StoreID          int64        `json:"storeId,omitempty"`
	Kind             TaskKind     `json:"kind"`
	Content          string       `json:"content"`
	Status           TaskStatus   `json:"status"`
	Priority         TaskPriority `json:"priority"`
	PrinterName      string       `json:"printerName,omitempty"`
	RetryCount       int          `json:"retryCount"`
	AssignedClientID string       `json:"assignedClientId,omitempty"`
	ErrorMessage     string       `json:"errorMessage,omitempty"`
	CreateTime       time.Time    `json:"createTime"`
	LastUpdateTime   time.Time    `json:"lastUpdateTime"`
	PrintTime        *time.Time   `json:"printTime,omitempty"`
}

// HasStore reports whether the task carries a store routing key. Store id 0
// is treated as absent.
func (t *PrintTask) HasStore() bool {
	return t.StoreID > 0
}

type PrintClient struct {
	ClientID       string    `json:"clientId"`
	ClientName     string    `json:"clientName"`
	MerchantID     int64     `json:"merchantId"`
	StoreID        int64     `json:"storeId,omitempty"`
	PrinterName    string    `json:"printerName,omitempty"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	Version        string    `json:"version,omitempty"`
	OSInfo         string    `json:"osInfo,omitempty"`
	Online         bool      `json:"online"`
	LastActiveTime time.Time `json:"lastActiveTime"`
	CreateTime     time.Time `json:"createTime"`
	UpdateTime     time.Time `json:"updateTime"`
}

type PrintHistory struct {
	ID           int64         `json:"id"`
	TaskID       string        `json:"taskId"`
	OrderID      int64         `json:"orderId"`
	OrderNo      string        `json:"orderNo"`
	MerchantID   int64         `json:"merchantId"`
	StoreID      int64         `json:"storeId,omitempty"`
	ClientID     string        `json:"clientId"`
	PrinterName  string        `json:"printerName,omitempty"`
	IPAddress    string        `json:"ipAddress,omitempty"`
	Status       HistoryStatus `json:"status"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	PrintTime    time.Time     `json:"printTime"`
	CreateTime   time.Time     `json:"createTime"`
}

// Scope narrows a lookup to a store or a merchant. StoreID wins when both
// are set; the zero Scope matches everything.
type Scope struct {
	MerchantID int64
	StoreID    int64
}

func StoreScope(storeID int64) Scope       { return Scope{StoreID: storeID} }
func MerchantScope(merchantID int64) Scope { return Scope{MerchantID: merchantID} }

func (s Scope) IsZero() bool { return s.MerchantID == 0 && s.StoreID == 0 }

type TaskStore interface {
	// Insert stores a new task and returns ErrDuplicateTask when the id is taken.
	Insert(ctx context.Context, task *PrintTask) error
	Save(ctx context.Context, task *PrintTask) error
	FindByID(ctx context.Context, taskID string) (*PrintTask, error)
	CountByOrder(ctx context.Context, orderID int64, kind TaskKind) (int, error)
	FindByStatus(ctx context.Context, status TaskStatus, scope Scope) ([]*PrintTask, error)
	FindStale(ctx context.Context, statuses []TaskStatus, before time.Time) ([]*PrintTask, error)
	FindCompletedBefore(ctx context.Context, before time.Time) ([]*PrintTask, error)
	ListByMerchant(ctx context.Context, merchantID int64, limit, offset int) ([]*PrintTask, int, error)
	Delete(ctx context.Context, taskID string) error
}

type ClientStore interface {
	Save(ctx context.Context, client *PrintClient) error
	FindByID(ctx context.Context, clientID string) (*PrintClient, error)
	FindOnline(ctx context.Context, scope Scope) ([]*PrintClient, error)
	FindStaleOnline(ctx context.Context, before time.Time) ([]*PrintClient, error)
}

type HistoryStore interface {
	Append(ctx context.Context, h *PrintHistory) error
	ListByTask(ctx context.Context, taskID string) ([]*PrintHistory, error)
}

// Notifier is the outbound side of the engine. Implementations must not
// return publish failures to the caller.
type Notifier interface {
	DispatchTask(ctx context.Context, task *PrintTask)
	NotifyStatus(ctx context.Context, task *PrintTask)
	SystemNotification(ctx context.Context, kind, message string)
}

// Archiver receives COMPLETED tasks before the retention cleanup deletes them.
type Archiver interface {
	ArchiveTasks(ctx context.Context, tasks []*PrintTask) error
}

// Clock is swapped out in tests.
type Clock func() time.Time

type nopNotifier struct{}

func (nopNotifier) DispatchTask(context.Context, *PrintTask)          {}
func (nopNotifier) NotifyStatus(context.Context, *PrintTask)          {}
func (nopNotifier) SystemNotification(context.Context, string, string) {}
