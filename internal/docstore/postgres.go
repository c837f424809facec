package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// NotifyChannel はドキュメント変更通知のチャネル名。
// documentsテーブルのトリガーがコレクション名をペイロードとして送信する。
const NotifyChannel = "document_changes"

// PostgresStore はPostgreSQLのdocumentsテーブルを使ったドキュメントストア。
// listenerが設定されている場合はLISTEN/NOTIFYで他プロセスの変更も配信する。
type PostgresStore struct {
	db       *sql.DB
	listener *pq.Listener
	hub      *hub
	recorder NotificationRecorder
	logger   *slog.Logger
}

// NotificationRecorder は受信した変更通知の記録先。
type NotificationRecorder interface {
	RecordStoreNotification(collection string)
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore はPostgresStoreを生成する。
// listenerがnilの場合は自プロセスの書き込みのみを購読者へ配信する。
// recorderはnilでもよい。
func NewPostgresStore(db *sql.DB, listener *pq.Listener, recorder NotificationRecorder, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PostgresStore{db: db, listener: listener, recorder: recorder, logger: logger}
	s.hub = newHub(s.List)
	return s
}

func (s *PostgresStore) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	collection, key, err := SplitPath(path)
	if err != nil {
		return nil, false, err
	}

	var value []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM documents WHERE collection = $1 AND key = $2`,
		collection, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get document %s: %w", path, err)
	}
	return value, true, nil
}

func (s *PostgresStore) List(ctx context.Context, collection string) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM documents WHERE collection = $1 ORDER BY key`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	snap := make(Snapshot)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan %s document: %w", collection, err)
		}
		snap[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s documents: %w", collection, err)
	}
	return snap, nil
}

func (s *PostgresStore) Set(ctx context.Context, path string, value any) error {
	collection, key, err := SplitPath(path)
	if err != nil {
		return err
	}
	raw, err := encode(value)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		collection, key, []byte(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to set document %s: %w", path, err)
	}

	s.afterWrite(ctx, collection)
	return nil
}

func (s *PostgresStore) Patch(ctx context.Context, path string, fields map[string]any) error {
	collection, key, err := SplitPath(path)
	if err != nil {
		return err
	}
	partial, err := merge(nil, fields)
	if err != nil {
		return err
	}

	// jsonbの || 演算子でトップレベルのフィールドのみを上書きする
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, key)
		DO UPDATE SET value = documents.value || EXCLUDED.value, updated_at = now()`,
		collection, key, []byte(partial),
	)
	if err != nil {
		return fmt.Errorf("failed to patch document %s: %w", path, err)
	}

	s.afterWrite(ctx, collection)
	return nil
}

func (s *PostgresStore) NewKey(collection string) string {
	return newKey()
}

func (s *PostgresStore) Subscribe(ctx context.Context, collection string, fn Listener) (func(), error) {
	return s.hub.subscribe(ctx, collection, fn), nil
}

// afterWrite はlistenerがない場合のみ自プロセス内で配信する。
// listenerがある場合はトリガー経由の通知で配信される。
func (s *PostgresStore) afterWrite(ctx context.Context, collection string) {
	if s.listener == nil {
		s.hub.publish(context.WithoutCancel(ctx), collection)
	}
}

// Listen は変更通知を受信して購読者へ配信する。ctxが終了するまでブロックする。
// 再接続後（nil通知）は取りこぼしに備えて購読中の全コレクションへ配信する。
func (s *PostgresStore) Listen(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("docstore: listener is not configured")
	}
	if err := s.listener.Listen(NotifyChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}
	defer s.listener.UnlistenAll()

	s.logger.Info("document change listener started", slog.String("channel", NotifyChannel))

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("document change listener stopped")
			return nil
		case n := <-s.listener.Notify:
			if n == nil {
				s.hub.publishAll(ctx)
				continue
			}
			if s.recorder != nil {
				s.recorder.RecordStoreNotification(n.Extra)
			}
			s.hub.publish(ctx, n.Extra)
		case <-ping.C:
			if err := s.listener.Ping(); err != nil {
				s.logger.Warn("listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}
