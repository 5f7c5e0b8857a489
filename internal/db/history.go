package db

import (
	"context"
	"database/sql"

	"github.com/orrn/printhub/internal/core"
)

// HistoryOperations is append-only; there is no update or delete.
type HistoryOperations struct {
	db *sql.DB
}

func NewHistoryOperations(db *sql.DB) *HistoryOperations {
	return &HistoryOperations{db: db}
}

func (o *HistoryOperations) Append(ctx context.Context, h *core.PrintHistory) error {
	result, err := o.db.ExecContext(ctx, InsertHistory,
		h.TaskID, h.OrderID, h.OrderNo, h.MerchantID, h.StoreID, h.ClientID,
		h.PrinterName, h.IPAddress, string(h.Status), h.ErrorMessage, utc(h.PrintTime), utc(h.CreateTime))
	if err != nil {
		return storeErr("append history", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storeErr("get history id", err)
	}
	h.ID = id
	return nil
}

func (o *HistoryOperations) ListByTask(ctx context.Context, taskID string) ([]*core.PrintHistory, error) {
	rows, err := o.db.QueryContext(ctx, ListHistoryByTask, taskID)
	if err != nil {
		return nil, storeErr("list history", err)
	}
	defer rows.Close()

	records := []*core.PrintHistory{}
	for rows.Next() {
		var (
			h      core.PrintHistory
			status string
		)
		if err := rows.Scan(
			&h.ID, &h.TaskID, &h.OrderID, &h.OrderNo, &h.MerchantID, &h.StoreID, &h.ClientID,
			&h.PrinterName, &h.IPAddress, &status, &h.ErrorMessage, &h.PrintTime, &h.CreateTime); err != nil {
			return nil, storeErr("scan history", err)
		}
		h.Status = core.HistoryStatus(status)
		records = append(records, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list history", err)
	}
	return records, nil
}
