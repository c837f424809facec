package docstore

import (
	"context"
	"sync"
)

// loadFunc はコレクションの現在のスナップショットを読み込む。
type loadFunc func(ctx context.Context, collection string) (Snapshot, error)

// hub はコレクションごとの購読者を管理し、変更時にスナップショットを配信する。
// 配信はdispatchMuで直列化されるため、各購読者は順序どおりにスナップショットを受け取る。
// コールバック内でSubscribeや書き込みを呼んではならない（unsubscribeは可）。
type hub struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]Listener
	nextID uint64

	dispatchMu sync.Mutex
	load       loadFunc
}

func newHub(load loadFunc) *hub {
	return &hub{
		subs: make(map[string]map[uint64]Listener),
		load: load,
	}
}

// subscribe は購読者を登録し、現在のスナップショットを直ちに配信する。
func (h *hub) subscribe(ctx context.Context, collection string, fn Listener) func() {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[collection] == nil {
		h.subs[collection] = make(map[uint64]Listener)
	}
	h.subs[collection][id] = fn
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[collection]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(h.subs, collection)
				}
			}
		})
	}

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			unsubscribe()
		}()
	}

	fn(h.load(ctx, collection))
	return unsubscribe
}

// publish はコレクションの購読者へ最新スナップショットを配信する。
// スナップショットは購読者数に関わらず1回だけ読み込む。
func (h *hub) publish(ctx context.Context, collection string) {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()

	listeners := h.listeners(collection)
	if len(listeners) == 0 {
		return
	}

	snap, err := h.load(ctx, collection)
	for id, fn := range listeners {
		if !h.active(collection, id) {
			continue
		}
		fn(snap, err)
	}
}

// publishAll は購読中の全コレクションへ配信する。通知の取りこぼしが疑われる場合に使う。
func (h *hub) publishAll(ctx context.Context) {
	h.mu.Lock()
	collections := make([]string, 0, len(h.subs))
	for c := range h.subs {
		collections = append(collections, c)
	}
	h.mu.Unlock()

	for _, c := range collections {
		h.publish(ctx, c)
	}
}

// listeners はロック下で購読者のコピーを取得する。コールバックはロック外で呼ぶ。
func (h *hub) listeners(collection string) map[uint64]Listener {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[collection]
	out := make(map[uint64]Listener, len(set))
	for id, fn := range set {
		out[id] = fn
	}
	return out
}

// active は配信中に購読解除されたリスナーを除外するために使う。
func (h *hub) active(collection string, id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.subs[collection][id]
	return ok
}

// subscriberCount はコレクションの購読者数を返す。
func (h *hub) subscriberCount(collection string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[collection])
}
