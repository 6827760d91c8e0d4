// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, sync, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeIdentityNotFound  = "IDENTITY_NOT_FOUND"
	ErrCodeMissingParams     = "MISSING_PARAMS"
	ErrCodeInvalidCredential = "INVALID_CREDENTIAL"
	ErrCodeUsernameTaken     = "USERNAME_TAKEN"
	ErrCodeWeakPassword      = "WEAK_PASSWORD"
	ErrCodeSyncFailed        = "SYNC_FAILED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
)

// NewIdentityNotFoundError はuserId/emailペアが共有ストアに存在しない場合のエラーを生成する。
func NewIdentityNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityNotFound,
		Message:  "指定されたユーザーが見つかりません。",
		Category: "auth",
		Action:   "このサイトで直接ログインし直してください。",
	}
}

// NewMissingParamsError は必須パラメータ欠落エラーを生成する。
func NewMissingParamsError(params string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingParams,
		Message:  fmt.Sprintf("必須パラメータが不足しています: %s", params),
		Category: "validation",
		Action:   "リクエストパラメータを確認してください。",
	}
}

// NewInvalidCredentialError は認証情報不一致エラーを生成する。
// メールアドレスの存在有無を区別しない単一のメッセージを返す。
func NewInvalidCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUsernameTakenError はユーザー名重複エラーを生成する。
func NewUsernameTakenError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUsernameTaken,
		Message:  fmt.Sprintf("このユーザー名は既に使用されています: %s", username),
		Category: "validation",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewWeakPasswordError はパスワード強度不足エラーを生成する。
func NewWeakPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  "パスワードは6文字以上で指定してください。",
		Category: "validation",
		Action:   "より長いパスワードを設定してください。",
	}
}

// NewSyncFailedError は同期失敗エラーを生成する。
// トークン検証失敗の内訳（期限切れ/署名不正/使用済み）はログにのみ記録し、
// クライアントには一律の単一メッセージを返す。
func NewSyncFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncFailed,
		Message:  "セッションの同期に失敗しました。",
		Category: "sync",
		Action:   "お手数ですが、このサイトで直接ログインしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}
