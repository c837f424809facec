// Package live はWebSocketで予約一覧と受付キューを配信するライブビューを提供する。
// 表示はセッションの変化・コレクションの変更・フィルタ変更のたびに一から計算し直す。
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/clinicman/internal/guard"
	"github.com/hitoshi/clinicman/internal/metrics"
	"github.com/hitoshi/clinicman/internal/middleware"
	"github.com/hitoshi/clinicman/internal/model"
)

// View はライブビューの種類。
type View string

const (
	ViewAppointments View = "appointments"
	ViewQueue        View = "queue"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// ParseView はURLパラメータをViewに変換する。
func ParseView(s string) (View, bool) {
	v := View(s)
	_, ok := renderers[v]
	return v, ok
}

// Watcher はセッションの変化に応じてアクセス判定をやり直す。
type Watcher interface {
	Watch(ctx context.Context, sessionID string, allowed model.RoleSet, fn func(guard.Decision)) func()
	Location(d guard.Decision, loginDestination string) string
}

// AppointmentSource は予約コレクションの購読元。
type AppointmentSource interface {
	Subscribe(ctx context.Context, fn func([]model.Appointment, error)) (func(), error)
}

// Config はライブビューの設定。
type Config struct {
	LoginPath      string
	AllowedOrigins []string // 同一オリジン以外で接続を許可するOrigin
}

// Handler はライブビューのWebSocketハンドラー。
type Handler struct {
	watcher  Watcher
	source   AppointmentSource
	metrics  metrics.MetricsCollector
	config   Config
	upgrader websocket.Upgrader
}

// NewHandler はHandlerの新しいインスタンスを生成する。
func NewHandler(watcher Watcher, source AppointmentSource, m metrics.MetricsCollector, config Config) *Handler {
	if m == nil {
		m = metrics.NopCollector{}
	}
	h := &Handler{
		watcher: watcher,
		source:  source,
		metrics: m,
		config:  config,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Serve はviewのライブビューを配信するハンドラーを返す。
// 接続中にログアウト・期限切れ・ロール変更が起きた場合はredirectメッセージを送って接続を閉じる。
func (h *Handler) Serve(view View, allowed model.RoleSet) http.HandlerFunc {
	render := renderers[view]

	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := ""
		if session := middleware.SessionFromContext(r.Context()); session != nil {
			sessionID = session.ID
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		h.metrics.LiveViewOpened(string(view))
		defer h.metrics.LiveViewClosed(string(view))

		p := newPage(view, render)
		done := make(chan struct{})
		go func() {
			defer close(done)
			writePump(conn, p.send)
		}()

		stopWatch := h.watcher.Watch(ctx, sessionID, allowed, func(d guard.Decision) {
			if !d.Permitted() {
				msg := redirectMessage(d.Err, h.watcher.Location(d, h.config.LoginPath))
				p.terminate(&msg)
				return
			}
			p.setProfile(d.Profile)
		})
		defer stopWatch()

		if !p.isClosed() {
			unsubscribe, err := h.source.Subscribe(ctx, p.setSnapshot)
			if err != nil {
				slog.Error("live view subscribe failed",
					slog.String("view", string(view)),
					slog.String("error", err.Error()),
				)
				msg := errorMessage(model.NewStoreUnavailableError("予約"))
				p.terminate(&msg)
			} else {
				defer unsubscribe()
			}
		}

		readPump(conn, p)
		p.terminate(nil)
		<-done
	}
}

// readPump はクライアントのフィルタ変更を読み続ける。接続が閉じるまで戻らない。
func readPump(conn *websocket.Conn, p *page) {
	conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "filter" {
			continue
		}
		p.setFilters(msg.Filters)
	}
}

// writePump は送信キューの内容を書き込む。キューが閉じたらクローズフレームを送って接続を閉じる。
func writePump(conn *websocket.Conn, send <-chan outMessage) {
	defer conn.Close()

	for msg := range send {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			// 読み出し側を終わらせるため接続を閉じ、残りは読み捨てる
			conn.Close()
			for range send {
			}
			return
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// checkOrigin は同一ホスト、または設定で許可したOriginからの接続のみ受け付ける。
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if middleware.OriginAllowed(h.config.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
