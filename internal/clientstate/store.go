// Package clientstate はブラウザ側に保持する小さなキー/値の状態を扱う。
// 値はHMAC-SHA256で署名したCookieに格納し、改ざんされた値は存在しないものとして扱う。
package clientstate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

// 保持するキー
const (
	KeyRedirectAfterLogin            = "redirectAfterLogin"
	KeyFlashMessage                  = "flashMessage"
	KeyCurrentPatientForPrescription = "currentPatientIdForPrescription"
	KeyCurrentPatientForDetails      = "currentPatientIdForDetails"
	KeyPatientToViewPrescriptions    = "patientIdToViewPrescriptions"
)

const cookiePrefix = "cs_"

// Config はクライアント状態Cookieの設定。
type Config struct {
	Secret       string
	MaxAge       int // 秒
	CookieSecure bool
	CookieDomain string
}

// Store は署名付きCookieによるクライアント状態ストア。
type Store struct {
	secret []byte
	config Config
}

// NewStore はStoreを生成する。
func NewStore(config Config) *Store {
	return &Store{secret: []byte(config.Secret), config: config}
}

// Get はキーの値を返す。未設定または署名が一致しない場合はfalseを返す。
func (s *Store) Get(r *http.Request, key string) (string, bool) {
	c, err := r.Cookie(cookiePrefix + key)
	if err != nil || c.Value == "" {
		return "", false
	}
	encoded, sig, ok := strings.Cut(c.Value, ".")
	if !ok {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	want := s.sign(key, string(raw))
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, want) {
		return "", false
	}
	return string(raw), true
}

// Set はキーに値を書き込む。
func (s *Store) Set(w http.ResponseWriter, key, value string) {
	v := base64.RawURLEncoding.EncodeToString([]byte(value)) + "." +
		base64.RawURLEncoding.EncodeToString(s.sign(key, value))
	http.SetCookie(w, s.cookie(key, v, s.config.MaxAge))
}

// Remove はキーを削除する。
func (s *Store) Remove(w http.ResponseWriter, key string) {
	c := s.cookie(key, "", -1)
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

// Pop はキーの値を読み出して削除する。
func (s *Store) Pop(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v, ok := s.Get(r, key)
	if ok {
		s.Remove(w, key)
	}
	return v, ok
}

// sign はキーと値の組に対する署名を計算する。キーを含めることで値の付け替えを防ぐ。
func (s *Store) sign(key, value string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return mac.Sum(nil)
}

func (s *Store) cookie(key, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     cookiePrefix + key,
		Value:    value,
		Path:     "/",
		Domain:   s.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
