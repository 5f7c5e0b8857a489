package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/orrn/printhub/internal/core"
)

const (
	settingsKeyLastSyncOrderID = "ingest.last_sync_order_id"
	settingsKeyJWTSecret       = "auth.jwt_secret"

	jwtSecretSize = 32
)

type SettingsOperations struct {
	db *sql.DB
}

func NewSettingsOperations(db *sql.DB) *SettingsOperations {
	return &SettingsOperations{db: db}
}

// GetSetting returns core.ErrNotFound for missing keys.
func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	if err := o.db.QueryRowContext(ctx, GetSetting, key).Scan(&value); err != nil {
		return "", storeErr("get setting", err)
	}
	return value, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string) error {
	if _, err := o.db.ExecContext(ctx, SetSetting, key, value); err != nil {
		return storeErr("set setting", err)
	}
	return nil
}

// GetOrCreateJWTSecret returns the stored token signing secret, generating
// and storing one on first use.
func (o *SettingsOperations) GetOrCreateJWTSecret(ctx context.Context) (string, error) {
	value, err := o.GetSetting(ctx, settingsKeyJWTSecret)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return "", err
	}

	key := make([]byte, jwtSecretSize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	secret := hex.EncodeToString(key)
	if err := o.SetSetting(ctx, settingsKeyJWTSecret, secret); err != nil {
		return "", err
	}
	return secret, nil
}

// Checkpoint persists the ingestion cursor in the settings table.
type Checkpoint struct {
	settings *SettingsOperations
	initial  int64
}

// NewCheckpoint returns a checkpoint that reports initial until a cursor
// has been saved.
func NewCheckpoint(db *sql.DB, initial int64) *Checkpoint {
	return &Checkpoint{settings: NewSettingsOperations(db), initial: initial}
}

func (c *Checkpoint) Load(ctx context.Context) (int64, error) {
	value, err := c.settings.GetSetting(ctx, settingsKeyLastSyncOrderID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return c.initial, nil
		}
		return 0, err
	}
	cursor, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stored sync cursor %q is not an integer: %w", value, err)
	}
	return cursor, nil
}

func (c *Checkpoint) Save(ctx context.Context, cursor int64) error {
	return c.settings.SetSetting(ctx, settingsKeyLastSyncOrderID, strconv.FormatInt(cursor, 10))
}
