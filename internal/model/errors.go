// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, authorization, integrity, validation, store, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeInvalidEmail        = "INVALID_EMAIL"
	ErrCodeEmailInUse          = "EMAIL_IN_USE"
	ErrCodeWeakPassword        = "WEAK_PASSWORD"
	ErrCodeTooManyAttempts     = "TOO_MANY_ATTEMPTS"
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeRoleForbidden       = "ROLE_FORBIDDEN"
	ErrCodeProfileNotFound     = "PROFILE_NOT_FOUND"
	ErrCodeStoreUnavailable    = "STORE_UNAVAILABLE"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodePatientNotFound     = "PATIENT_NOT_FOUND"
	ErrCodeDoctorNotFound      = "DOCTOR_NOT_FOUND"
	ErrCodeAppointmentNotFound = "APPOINTMENT_NOT_FOUND"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeSelectionMissing    = "SELECTION_MISSING"
	ErrCodeCSRFTokenInvalid    = "CSRF_TOKEN_INVALID"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewInvalidEmailError は不正なメールアドレス形式のエラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "メールアドレスの形式が正しくありません。",
		Category: "auth",
		Action:   "有効なメールアドレスを入力してください。",
	}
}

// NewEmailInUseError は登録済みメールアドレスのエラーを生成する。
func NewEmailInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailInUse,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスで登録してください。",
	}
}

// NewWeakPasswordError は短すぎるパスワードのエラーを生成する。
func NewWeakPasswordError(minLength int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("パスワードは%d文字以上である必要があります。", minLength),
		Category: "auth",
		Action:   "より長いパスワードを設定してください。",
	}
}

// NewTooManyAttemptsError はログイン試行回数超過エラーを生成する。
func NewTooManyAttemptsError() *APIError {
	return &APIError{
		Code:     ErrCodeTooManyAttempts,
		Message:  "ログイン試行回数が上限に達しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthenticatedError は未ログインエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewRoleForbiddenError はロール不一致エラーを生成する。allowedは許可されたロール名。
func NewRoleForbiddenError(allowed []string) *APIError {
	msg := "このページにアクセスする権限がありません。"
	if len(allowed) > 0 {
		msg = fmt.Sprintf("アクセスが拒否されました。このページは %s のみ利用できます。", strings.Join(allowed, ", "))
	}
	return &APIError{
		Code:     ErrCodeRoleForbidden,
		Message:  msg,
		Category: "authorization",
		Action:   "権限のあるアカウントでログインしてください。",
	}
}

// NewProfileNotFoundError はユーザープロファイル欠損エラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "ユーザープロファイルが見つかりません。ログアウトしました。",
		Category: "integrity",
		Action:   "再度ログインしてください。解決しない場合は管理者に連絡してください。",
	}
}

// NewStoreUnavailableError はデータ取得失敗エラーを生成する。
func NewStoreUnavailableError(what string) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  fmt.Sprintf("%sの読み込みに失敗しました。", what),
		Category: "store",
		Action:   "ページを再読み込みしてください。",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  reason,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewPatientNotFoundError は患者未検出エラーを生成する。
func NewPatientNotFoundError(ref string) *APIError {
	return &APIError{
		Code:     ErrCodePatientNotFound,
		Message:  fmt.Sprintf("患者が見つかりません: %s", ref),
		Category: "validation",
		Action:   "患者名またはIDを確認してください。",
	}
}

// NewDoctorNotFoundError は医師未検出エラーを生成する。
func NewDoctorNotFoundError(uid string) *APIError {
	return &APIError{
		Code:     ErrCodeDoctorNotFound,
		Message:  fmt.Sprintf("医師が見つかりません: %s", uid),
		Category: "validation",
		Action:   "医師一覧から選択してください。",
	}
}

// NewAppointmentNotFoundError は予約未検出エラーを生成する。
func NewAppointmentNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeAppointmentNotFound,
		Message:  fmt.Sprintf("指定された予約が見つかりません: %s", id),
		Category: "validation",
		Action:   "予約IDを確認してください。",
	}
}

// NewInvalidTransitionError は許可されないステータス遷移のエラーを生成する。
func NewInvalidTransitionError(from, to string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("ステータスを %s から %s に変更できません。", from, to),
		Category: "validation",
		Action:   "予約の現在のステータスを確認してください。",
	}
}

// NewSelectionMissingError は患者未選択エラーを生成する。
func NewSelectionMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeSelectionMissing,
		Message:  "患者が選択されていません。",
		Category: "validation",
		Action:   "受付キューから患者を選択してください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCSRFTokenInvalidError はCSRFトークン検証の失敗を表すエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "リクエストを検証できませんでした。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// WrapStoreError はストア操作の失敗をSTORE_UNAVAILABLEとして原因付きで返す。
// errors.As で *APIError を、errors.Is で原因を取り出せる。
func WrapStoreError(what string, err error) error {
	return fmt.Errorf("%w: %w", NewStoreUnavailableError(what), err)
}

// NewLoginRoleMismatchError はロール指定ログインで登録ロールと異なる場合のエラーを生成する。
func NewLoginRoleMismatchError(registered Role) *APIError {
	return &APIError{
		Code:     ErrCodeRoleForbidden,
		Message:  fmt.Sprintf("アクセスが拒否されました。このアカウントは %s として登録されています。", registered),
		Category: "authorization",
		Action:   "該当するログインページからログインしてください。",
	}
}
