package docstore

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore はプロセス内のドキュメントストア。テストと単一プロセスでの開発用。
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]json.RawMessage
	hub  *hub
}

// コンパイル時にインターフェースの実装を検証する。
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{data: make(map[string]map[string]json.RawMessage)}
	s.hub = newHub(s.List)
	return s
}

func (s *MemoryStore) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	collection, key, err := SplitPath(path)
	if err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[collection][key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), v...), true, nil
}

func (s *MemoryStore) List(ctx context.Context, collection string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(Snapshot, len(s.data[collection]))
	for k, v := range s.data[collection] {
		snap[k] = append(json.RawMessage(nil), v...)
	}
	return snap, nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	collection, key, err := SplitPath(path)
	if err != nil {
		return err
	}
	raw, err := encode(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.data[collection] == nil {
		s.data[collection] = make(map[string]json.RawMessage)
	}
	s.data[collection][key] = append(json.RawMessage(nil), raw...)
	s.mu.Unlock()

	s.hub.publish(ctx, collection)
	return nil
}

func (s *MemoryStore) Patch(ctx context.Context, path string, fields map[string]any) error {
	collection, key, err := SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	merged, err := merge(s.data[collection][key], fields)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.data[collection] == nil {
		s.data[collection] = make(map[string]json.RawMessage)
	}
	s.data[collection][key] = merged
	s.mu.Unlock()

	s.hub.publish(ctx, collection)
	return nil
}

func (s *MemoryStore) NewKey(collection string) string {
	return newKey()
}

func (s *MemoryStore) Subscribe(ctx context.Context, collection string, fn Listener) (func(), error) {
	return s.hub.subscribe(ctx, collection, fn), nil
}
