package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orrn/printhub/internal/telemetry"
)

const (
	DefaultHeartbeatTimeout = 2 * time.Minute

	NotificationClientOffline = "CLIENT_OFFLINE"
)

type RegistryConfig struct {
	HeartbeatTimeout time.Duration
	Clock            Clock
	Logger           *slog.Logger
}

// ClientRegistry is the only writer of PrintClient.Online and LastActiveTime.
type ClientRegistry struct {
	store            ClientStore
	notifier         Notifier
	heartbeatTimeout time.Duration
	now              Clock
	log              *slog.Logger
}

func NewClientRegistry(store ClientStore, notifier Notifier, cfg RegistryConfig) *ClientRegistry {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}

	return &ClientRegistry{
		store:            store,
		notifier:         notifier,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		now:              cfg.Clock,
		log:              cfg.Logger.With("component", "registry"),
	}
}

// Register upserts a client by id and marks it online. A missing id is
// generated.
func (r *ClientRegistry) Register(ctx context.Context, c *PrintClient) (*PrintClient, error) {
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}

	now := r.now()

	existing, err := r.store.FindByID(ctx, c.ClientID)
	switch {
	case errors.Is(err, ErrNotFound):
		c.Online = true
		c.LastActiveTime = now
		c.CreateTime = now
		c.UpdateTime = now
		if err := r.store.Save(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to register client %s: %w", c.ClientID, err)
		}
		telemetry.ClientsRegistered.Inc()
		r.log.Info("client registered", "client_id", c.ClientID, "merchant_id", c.MerchantID, "store_id", c.StoreID)
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("failed to look up client %s: %w", c.ClientID, err)
	}

	existing.ClientName = c.ClientName
	existing.MerchantID = c.MerchantID
	existing.StoreID = c.StoreID
	if c.PrinterName != "" {
		existing.PrinterName = c.PrinterName
	}
	if c.IPAddress != "" {
		existing.IPAddress = c.IPAddress
	}
	if c.Version != "" {
		existing.Version = c.Version
	}
	if c.OSInfo != "" {
		existing.OSInfo = c.OSInfo
	}
	existing.Online = true
	existing.LastActiveTime = now
	existing.UpdateTime = now

	if err := r.store.Save(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update client %s: %w", c.ClientID, err)
	}
	r.log.Info("client re-registered", "client_id", existing.ClientID, "store_id", existing.StoreID)
	return existing, nil
}

// Heartbeat refreshes liveness. Unknown clients yield ErrNotFound.
func (r *ClientRegistry) Heartbeat(ctx context.Context, clientID string) (*PrintClient, error) {
	c, err := r.store.FindByID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	c.Online = true
	c.LastActiveTime = now
	c.UpdateTime = now

	if err := r.store.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to record heartbeat for %s: %w", clientID, err)
	}
	return c, nil
}

// SweepLiveness flips every online client whose last heartbeat is older
// than the timeout to offline and returns how many were flipped. Failures
// for a single client are logged and the sweep moves on.
func (r *ClientRegistry) SweepLiveness(ctx context.Context) int {
	now := r.now()
	threshold := now.Add(-r.heartbeatTimeout)

	stale, err := r.store.FindStaleOnline(ctx, threshold)
	if err != nil {
		r.log.Error("liveness sweep query failed", "error", err)
		return 0
	}

	flipped := 0
	for _, c := range stale {
		c.Online = false
		c.UpdateTime = now
		if err := r.store.Save(ctx, c); err != nil {
			r.log.Error("failed to mark client offline", "client_id", c.ClientID, "error", err)
			continue
		}
		flipped++
		telemetry.ClientsOffline.Inc()
		r.log.Warn("client offline", "client_id", c.ClientID, "last_active", c.LastActiveTime)
		r.notifier.SystemNotification(ctx, NotificationClientOffline,
			fmt.Sprintf("client offline: %s (%s)", c.ClientName, c.ClientID))
	}

	return flipped
}

// FindLive returns online clients, narrowed to the store when the scope
// names one, else to the merchant.
func (r *ClientRegistry) FindLive(ctx context.Context, scope Scope) ([]*PrintClient, error) {
	if scope.StoreID > 0 {
		scope.MerchantID = 0
	}
	return r.store.FindOnline(ctx, scope)
}

func (r *ClientRegistry) Get(ctx context.Context, clientID string) (*PrintClient, error) {
	return r.store.FindByID(ctx, clientID)
}
