package ingest

import (
	"context"
	"time"
)

// Order is a paid upstream retail order.
type Order struct {
	ID         int64
	OrderNo    string
	MerchantID int64
	StoreID    int64
	OrderType  int
	PayTime    time.Time
	PayReal    float64
	AllMoney   float64
	Remark     string
}

type OrderItem struct {
	GoodsID   int64
	GoodsName string
	GoodsCode string
	SellNum   float64
	SellPrice float64
}

// OrderSource is the upstream order database. Every listing is ordered by
// order id ascending.
type OrderSource interface {
	PaidOrdersAfter(ctx context.Context, afterID int64, paidSince time.Time, limit int) ([]Order, error)
	RefundOrdersAfter(ctx context.Context, afterID int64, paidSince time.Time, limit int) ([]Order, error)
	PaidOrdersBetween(ctx context.Context, start, end time.Time) ([]Order, error)
	RefundOrdersBetween(ctx context.Context, start, end time.Time) ([]Order, error)
}

// ItemLoader loads order lines for receipt formatting.
type ItemLoader interface {
	OrderItems(ctx context.Context, orderID int64, refundedOnly bool) ([]OrderItem, error)
}
