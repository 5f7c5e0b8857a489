package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `bo.id, COALESCE(bo.order_no, ''), bo.merchant_id, COALESCE(bo.store_id, 0),
	COALESCE(bo.order_type, 0), bo.pay_time, COALESCE(bo.pay_real, 0)::float8,
	COALESCE(bo.all_money, 0)::float8, COALESCE(bo.remark, '')`

// refundedLine marks a sale line refunded at the till.
const refundedLine = `bs.refund_status = 2 AND bs.scene_type = 2`

const (
	queryPaidOrdersAfter = `
		SELECT ` + orderColumns + `
		FROM tp_retail_bill_order bo
		WHERE bo.id > $1 AND bo.pay_state = 1 AND bo.pay_time > $2
		ORDER BY bo.id ASC
		LIMIT $3`

	queryRefundOrdersAfter = `
		SELECT DISTINCT ` + orderColumns + `
		FROM tp_retail_bill_order bo
		JOIN tp_retail_bill_sell bs ON bs.bill_id = bo.id
		WHERE ` + refundedLine + ` AND bo.id > $1 AND bo.pay_time > $2
		ORDER BY bo.id ASC
		LIMIT $3`

	queryPaidOrdersBetween = `
		SELECT ` + orderColumns + `
		FROM tp_retail_bill_order bo
		WHERE bo.pay_state = 1 AND bo.pay_time >= $1 AND bo.pay_time <= $2
		ORDER BY bo.id ASC`

	queryRefundOrdersBetween = `
		SELECT DISTINCT ` + orderColumns + `
		FROM tp_retail_bill_order bo
		JOIN tp_retail_bill_sell bs ON bs.bill_id = bo.id
		WHERE ` + refundedLine + ` AND bo.pay_time >= $1 AND bo.pay_time <= $2
		ORDER BY bo.id ASC`

	queryOrderItems = `
		SELECT bs.goods_id, COALESCE(bs.goods_name, ''), COALESCE(bs.goods_code, ''),
			COALESCE(bs.sell_num, 0)::float8, COALESCE(bs.sell_price, 0)::float8
		FROM tp_retail_bill_sell bs
		WHERE bs.bill_id = $1
		ORDER BY bs.id ASC`

	queryRefundedItems = `
		SELECT bs.goods_id, COALESCE(bs.goods_name, ''), COALESCE(bs.goods_code, ''),
			COALESCE(bs.sell_num, 0)::float8, COALESCE(bs.sell_price, 0)::float8
		FROM tp_retail_bill_sell bs
		WHERE bs.bill_id = $1 AND ` + refundedLine + `
		ORDER BY bs.id ASC`
)

// PGSource reads orders from the retail Postgres database. pay_time is
// stored as unix seconds.
type PGSource struct {
	pool *pgxpool.Pool
}

func NewPGSource(ctx context.Context, dsn string) (*PGSource, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PGSource{pool: pool}, nil
}

func (s *PGSource) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PGSource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGSource) PaidOrdersAfter(ctx context.Context, afterID int64, paidSince time.Time, limit int) ([]Order, error) {
	return s.orders(ctx, queryPaidOrdersAfter, afterID, paidSince.Unix(), limit)
}

func (s *PGSource) RefundOrdersAfter(ctx context.Context, afterID int64, paidSince time.Time, limit int) ([]Order, error) {
	return s.orders(ctx, queryRefundOrdersAfter, afterID, paidSince.Unix(), limit)
}

func (s *PGSource) PaidOrdersBetween(ctx context.Context, start, end time.Time) ([]Order, error) {
	return s.orders(ctx, queryPaidOrdersBetween, start.Unix(), end.Unix())
}

func (s *PGSource) RefundOrdersBetween(ctx context.Context, start, end time.Time) ([]Order, error) {
	return s.orders(ctx, queryRefundOrdersBetween, start.Unix(), end.Unix())
}

func (s *PGSource) OrderItems(ctx context.Context, orderID int64, refundedOnly bool) ([]OrderItem, error) {
	query := queryOrderItems
	if refundedOnly {
		query = queryRefundedItems
	}

	rows, err := s.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.GoodsID, &it.GoodsName, &it.GoodsCode, &it.SellNum, &it.SellPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PGSource) orders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.CollectableRow) (Order, error) {
	var (
		o       Order
		payTime int64
	)
	err := row.Scan(&o.ID, &o.OrderNo, &o.MerchantID, &o.StoreID, &o.OrderType,
		&payTime, &o.PayReal, &o.AllMoney, &o.Remark)
	if err != nil {
		return Order{}, err
	}
	o.PayTime = time.Unix(payTime, 0)
	return o, nil
}
