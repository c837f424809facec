package live

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/clinicman/internal/appointment"
	"github.com/hitoshi/clinicman/internal/model"
	"github.com/hitoshi/clinicman/internal/query"
)

// 送信メッセージの種類
const (
	messageSnapshot = "snapshot"
	messageError    = "error"
	messageRedirect = "redirect"
)

// sendBufferSize は1接続あたりの送信キューの長さ。
const sendBufferSize = 16

// errorPayload はエラーメッセージの本文。HTTPのエラーレスポンスと同じ形。
type errorPayload struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// outMessage はクライアントに送るメッセージ。
type outMessage struct {
	Type     string        `json:"type"`
	View     View          `json:"view,omitempty"`
	Records  any           `json:"records,omitempty"`
	Error    *errorPayload `json:"error,omitempty"`
	Location string        `json:"location,omitempty"`
}

// inMessage はクライアントから受け取るメッセージ。現状はフィルタ変更のみ。
type inMessage struct {
	Type    string            `json:"type"`
	Filters query.FilterInput `json:"filters"`
}

func errorMessage(apiErr *model.APIError) outMessage {
	return outMessage{Type: messageError, Error: payloadOf(apiErr)}
}

func redirectMessage(apiErr *model.APIError, location string) outMessage {
	return outMessage{Type: messageRedirect, Error: payloadOf(apiErr), Location: location}
}

func payloadOf(apiErr *model.APIError) *errorPayload {
	if apiErr == nil {
		return nil
	}
	return &errorPayload{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

// renderFunc は予約のスナップショットから表示するレコードを計算する。
type renderFunc func(snapshot []model.Appointment, profile *model.UserProfile, in query.FilterInput) any

var renderers = map[View]renderFunc{
	ViewAppointments: func(snapshot []model.Appointment, profile *model.UserProfile, in query.FilterInput) any {
		return query.ComputeVisible(snapshot, profile.Role, profile.ID, in.Filters())
	},
	ViewQueue: func(snapshot []model.Appointment, profile *model.UserProfile, in query.FilterInput) any {
		return appointment.QueueEntries(query.ComputeVisible(snapshot, profile.Role, profile.ID, in.QueueFilters()))
	},
}

// page は1接続分の画面状態。セッション判定、コレクションの購読、
// クライアントのフィルタ変更の各コールバックから更新され、そのたびに表示を計算し直す。
// 終了後に届いたコールバックは捨てる。
type page struct {
	view   View
	render renderFunc
	send   chan outMessage

	mu       sync.Mutex
	profile  *model.UserProfile
	snapshot []model.Appointment
	loaded   bool
	filters  query.FilterInput
	closed   bool
}

func newPage(view View, render renderFunc) *page {
	return &page{
		view:   view,
		render: render,
		send:   make(chan outMessage, sendBufferSize),
	}
}

// setProfile は許可された判定のプロフィールを反映する。
func (p *page) setProfile(profile *model.UserProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.profile = profile
	p.publish()
}

// setSnapshot はコレクションの最新スナップショットを反映する。
// 読み込みエラーはその場で通知し、接続は維持する。
func (p *page) setSnapshot(snapshot []model.Appointment, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if err != nil {
		slog.Warn("live view snapshot failed",
			slog.String("view", string(p.view)),
			slog.String("error", err.Error()),
		)
		p.push(errorMessage(model.NewStoreUnavailableError("予約")))
		return
	}
	p.snapshot = snapshot
	p.loaded = true
	p.publish()
}

func (p *page) setFilters(in query.FilterInput) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.filters = in
	p.publish()
}

// terminate は送信キューを閉じる。2回目以降は何もしない。
// msgがあれば未送信のスナップショットを捨てて最後に送る。
func (p *page) terminate(msg *outMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if msg != nil {
		p.discardPending()
		p.push(*msg)
	}
	close(p.send)
}

// discardPending は送信キューに残ったメッセージを捨てる。p.muを保持して呼ぶこと。
func (p *page) discardPending() {
	for {
		select {
		case <-p.send:
		default:
			return
		}
	}
}

func (p *page) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// publish はプロフィールとスナップショットが揃っていれば表示を送る。p.muを保持して呼ぶこと。
func (p *page) publish() {
	if p.profile == nil || !p.loaded {
		return
	}
	p.push(outMessage{
		Type:    messageSnapshot,
		View:    p.view,
		Records: p.render(p.snapshot, p.profile, p.filters),
	})
}

// push は送信キューに積む。キューが一杯の場合は捨てる。次の更新で最新の表示が送られる。
func (p *page) push(msg outMessage) {
	select {
	case p.send <- msg:
	default:
		slog.Warn("live view send buffer full, dropping message",
			slog.String("view", string(p.view)),
			slog.String("type", msg.Type),
		)
	}
}
