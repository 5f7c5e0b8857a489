package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/orrn/printhub/internal/core"
)

var ErrNoItems = errors.New("order has no printable items")

// Formatter renders the receipt body stored in PrintTask.Content.
type Formatter interface {
	Format(ctx context.Context, order Order, kind core.TaskKind) (string, error)
}

// JSONFormatter renders a flat JSON receipt that client agents lay out
// themselves.
type JSONFormatter struct {
	items ItemLoader
}

func NewJSONFormatter(items ItemLoader) *JSONFormatter {
	return &JSONFormatter{items: items}
}

type receipt struct {
	Type       string        `json:"type"`
	OrderID    int64         `json:"orderId"`
	OrderNo    string        `json:"orderNo"`
	MerchantID int64         `json:"merchantId"`
	StoreID    int64         `json:"storeId"`
	OrderType  int           `json:"orderType"`
	PayTime    int64         `json:"payTime"`
	OrderTime  string        `json:"orderTime"`
	PayReal    float64       `json:"payReal"`
	AllMoney   float64       `json:"allMoney"`
	Remark     string        `json:"remark,omitempty"`
	Items      []receiptItem `json:"goodsItems"`
	Refund     float64       `json:"refundAmount,omitempty"`
}

type receiptItem struct {
	Name     string  `json:"goodsName"`
	Code     string  `json:"goodsCode,omitempty"`
	Quantity float64 `json:"sellNum"`
	Price    float64 `json:"sellPrice"`
	Subtotal float64 `json:"sellSubtotal"`
}

func (f *JSONFormatter) Format(ctx context.Context, order Order, kind core.TaskKind) (string, error) {
	refund := kind == core.TaskKindRefund

	items, err := f.items.OrderItems(ctx, order.ID, refund)
	if err != nil {
		return "", fmt.Errorf("failed to load items for order %d: %w", order.ID, err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("order %d: %w", order.ID, ErrNoItems)
	}

	r := receipt{
		Type:       "order",
		OrderID:    order.ID,
		OrderNo:    order.OrderNo,
		MerchantID: order.MerchantID,
		StoreID:    order.StoreID,
		OrderType:  order.OrderType,
		PayTime:    order.PayTime.Unix(),
		OrderTime:  order.PayTime.Format("2006-01-02 15:04:05"),
		PayReal:    order.PayReal,
		AllMoney:   order.AllMoney,
		Remark:     order.Remark,
	}
	if refund {
		r.Type = "refund"
	}

	for _, it := range items {
		subtotal := it.SellNum * it.SellPrice
		r.Items = append(r.Items, receiptItem{
			Name:     it.GoodsName,
			Code:     it.GoodsCode,
			Quantity: it.SellNum,
			Price:    it.SellPrice,
			Subtotal: subtotal,
		})
		if refund {
			r.Refund += subtotal
		}
	}

	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode receipt for order %d: %w", order.ID, err)
	}
	return string(body), nil
}
