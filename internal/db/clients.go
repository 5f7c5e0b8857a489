package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/orrn/printhub/internal/core"
)

// ClientOperations implements core.ClientStore on sqlite.
type ClientOperations struct {
	db *sql.DB
}

func NewClientOperations(db *sql.DB) *ClientOperations {
	return &ClientOperations{db: db}
}

func (o *ClientOperations) Save(ctx context.Context, c *core.PrintClient) error {
	online := 0
	if c.Online {
		online = 1
	}
	_, err := o.db.ExecContext(ctx, UpsertClient,
		c.ClientID, c.ClientName, c.MerchantID, c.StoreID, c.PrinterName, c.IPAddress,
		c.Version, c.OSInfo, online, utc(c.LastActiveTime), utc(c.CreateTime), utc(c.UpdateTime))
	if err != nil {
		return storeErr("save client", err)
	}
	return nil
}

func (o *ClientOperations) FindByID(ctx context.Context, clientID string) (*core.PrintClient, error) {
	c, err := scanClient(o.db.QueryRowContext(ctx, GetClientByID, clientID))
	if err != nil {
		return nil, storeErr("get client", err)
	}
	return c, nil
}

func (o *ClientOperations) FindOnline(ctx context.Context, scope core.Scope) ([]*core.PrintClient, error) {
	switch {
	case scope.StoreID > 0:
		return o.query(ctx, "list online clients by store", ListOnlineClientsByStore, scope.StoreID)
	case scope.MerchantID > 0:
		return o.query(ctx, "list online clients by merchant", ListOnlineClientsByMerchant, scope.MerchantID)
	default:
		return o.query(ctx, "list online clients", ListOnlineClients)
	}
}

func (o *ClientOperations) FindStaleOnline(ctx context.Context, before time.Time) ([]*core.PrintClient, error) {
	return o.query(ctx, "list stale clients", ListStaleOnlineClients, utc(before))
}

func (o *ClientOperations) query(ctx context.Context, op, query string, args ...any) ([]*core.PrintClient, error) {
	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	clients := []*core.PrintClient{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return clients, nil
}

func scanClient(s rowScanner) (*core.PrintClient, error) {
	var (
		c      core.PrintClient
		online int
	)
	err := s.Scan(
		&c.ClientID, &c.ClientName, &c.MerchantID, &c.StoreID, &c.PrinterName, &c.IPAddress,
		&c.Version, &c.OSInfo, &online, &c.LastActiveTime, &c.CreateTime, &c.UpdateTime)
	if err != nil {
		return nil, err
	}
	c.Online = online == 1
	return &c, nil
}
