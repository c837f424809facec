package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// poolConfig は接続プールの上限設定。
type poolConfig struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
}

// Option は Open の接続プール設定を変更する。
type Option func(*poolConfig)

// WithMaxOpenConns は同時接続数の上限を設定する。0以下は無視する。
// アイドル接続数は上限を超えないよう切り詰める。
func WithMaxOpenConns(n int) Option {
	return func(c *poolConfig) {
		if n <= 0 {
			return
		}
		c.maxOpen = n
		c.maxIdle = min(c.maxIdle, n)
	}
}

// WithConnMaxLifetime は接続の再利用期限を設定する。
func WithConnMaxLifetime(d time.Duration) Option {
	return func(c *poolConfig) {
		if d > 0 {
			c.maxLifetime = d
		}
	}
}

// Open はPostgreSQLへの接続プールを開く。
// sql.Openは接続を試行しないため、疎通確認は呼び出し側でPingContextを使う。
func Open(databaseURL string, opts ...Option) (*sql.DB, error) {
	cfg := poolConfig{maxOpen: 20, maxIdle: 5, maxLifetime: 30 * time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.maxOpen)
	db.SetMaxIdleConns(cfg.maxIdle)
	db.SetConnMaxLifetime(cfg.maxLifetime)

	return db, nil
}

// NewListener はLISTEN/NOTIFY受信用のpq.Listenerを生成する。
// 接続イベントはslogに記録する。再接続間隔はminReconnectからmaxReconnectの範囲で伸長する。
func NewListener(databaseURL string, minReconnect, maxReconnect time.Duration) *pq.Listener {
	return pq.NewListener(databaseURL, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			slog.Info("listener connected")
		case pq.ListenerEventDisconnected:
			slog.Warn("listener disconnected", slog.Any("error", err))
		case pq.ListenerEventReconnected:
			slog.Info("listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			slog.Warn("listener connection attempt failed", slog.Any("error", err))
		}
	})
}
