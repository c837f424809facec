// Package docstore はコレクション単位でJSONドキュメントを保持するストアを提供する。
// パスは "collection/key" 形式で指定する。購読者には変更のたびにコレクション全体の
// スナップショットが届く（差分は配信しない）。
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidPath はパスが "collection/key" 形式でない場合のエラー。
var ErrInvalidPath = errors.New("docstore: invalid path")

// Snapshot はコレクションの全ドキュメントをキーごとに保持する。
type Snapshot map[string]json.RawMessage

// Keys はスナップショットのキーを昇順で返す。
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Listener はスナップショットを受け取るコールバック。
// 取得に失敗した場合はerrが設定され、snapはnilになる。
type Listener func(snap Snapshot, err error)

// Store はドキュメントストアの操作を定義する。
type Store interface {
	// Get は1件のドキュメントを取得する。存在しない場合はfalseを返す。
	Get(ctx context.Context, path string) (json.RawMessage, bool, error)
	// List はコレクションの全ドキュメントを取得する。
	List(ctx context.Context, collection string) (Snapshot, error)
	// Set はドキュメントを丸ごと書き込む。
	Set(ctx context.Context, path string, value any) error
	// Patch は指定フィールドのみを書き換える。ドキュメントがなければ作成する。
	Patch(ctx context.Context, path string, fields map[string]any) error
	// NewKey は時刻順に並ぶ新しいキーを生成する。
	NewKey(collection string) string
	// Subscribe はコレクションを購読する。fnは直ちに現在のスナップショットで呼ばれ、
	// 以後は変更のたびに呼ばれる。返されたunsubscribeで購読を解除する。
	// ctxが終了した場合も購読は解除される。
	Subscribe(ctx context.Context, collection string, fn Listener) (unsubscribe func(), err error)
}

// SplitPath は "collection/key" をコレクション名とキーに分割する。
func SplitPath(path string) (collection, key string, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return parts[0], parts[1], nil
}

// Path はコレクション名とキーからパスを組み立てる。
func Path(collection, key string) string {
	return collection + "/" + key
}

// newKey はUUIDv7によるキーを生成する。UUIDv7は生成時刻順に並ぶ。
func newKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

// encode は書き込み値をJSONに変換する。
func encode(value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return b, nil
}

// merge はJSONオブジェクトにフィールドを上書きする。元のドキュメントが空の場合は新規作成する。
func merge(current json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	obj := make(map[string]json.RawMessage)
	if len(current) > 0 {
		if err := json.Unmarshal(current, &obj); err != nil {
			return nil, fmt.Errorf("failed to decode document for patch: %w", err)
		}
	}
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %s: %w", k, err)
		}
		obj[k] = b
	}
	return json.Marshal(obj)
}
