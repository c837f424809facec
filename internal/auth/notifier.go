package auth

import (
	"sync"
	"time"

	"github.com/hitoshi/clinicman/internal/model"
)

// SessionListener はセッション状態の変化を受け取るコールバック。
// ログアウトまたは期限切れの場合はnilが渡される。
type SessionListener func(session *model.Session)

type sessionWatch struct {
	fn    SessionListener
	timer *time.Timer
}

// sessionNotifier はセッションIDごとの購読者を管理する。
// 通知はプロセス内のみで、複数インスタンス間では共有されない。
type sessionNotifier struct {
	mu     sync.Mutex
	watch  map[string]map[uint64]*sessionWatch
	nextID uint64
}

func newSessionNotifier() *sessionNotifier {
	return &sessionNotifier{watch: make(map[string]map[uint64]*sessionWatch)}
}

// add は購読者を登録する。sessionが有効な場合は期限切れ時にnilで通知するタイマーを設定する。
func (n *sessionNotifier) add(sessionID string, session *model.Session, fn SessionListener, now time.Time) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	w := &sessionWatch{fn: fn}
	if n.watch[sessionID] == nil {
		n.watch[sessionID] = make(map[uint64]*sessionWatch)
	}
	n.watch[sessionID][id] = w
	if session != nil {
		w.timer = time.AfterFunc(session.ExpiresAt.Sub(now), func() {
			if n.remove(sessionID, id) {
				fn(nil)
			}
		})
	}
	n.mu.Unlock()

	return func() { n.remove(sessionID, id) }
}

// remove は購読者を削除する。削除した場合はtrueを返す。
func (n *sessionNotifier) remove(sessionID string, id uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.watch[sessionID]
	if !ok {
		return false
	}
	w, ok := set[id]
	if !ok {
		return false
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	delete(set, id)
	if len(set) == 0 {
		delete(n.watch, sessionID)
	}
	return true
}

// ended はセッション終了を全購読者へnilで通知し、購読を解除する。
// コールバックはロック外で呼ぶ。
func (n *sessionNotifier) ended(sessionID string) {
	n.mu.Lock()
	set := n.watch[sessionID]
	delete(n.watch, sessionID)
	n.mu.Unlock()

	for _, w := range set {
		if w.timer != nil {
			w.timer.Stop()
		}
		w.fn(nil)
	}
}

func (n *sessionNotifier) count(sessionID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.watch[sessionID])
}
