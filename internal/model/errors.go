// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: session, game, validation, auth, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrCodeParticipantNotFound = "PARTICIPANT_NOT_FOUND"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeAlreadyStarted      = "ALREADY_STARTED"
	ErrCodeNotStarted          = "NOT_STARTED"
	ErrCodeDuplicateName       = "DUPLICATE_NAME"
	ErrCodeInvalidName         = "INVALID_NAME"
	ErrCodeInvalidGameKind     = "INVALID_GAME_KIND"
	ErrCodeInsufficientPlayers = "INSUFFICIENT_PLAYERS"
	ErrCodeRoleCountMismatch   = "ROLE_COUNT_MISMATCH"
	ErrCodeMissingRequiredRole = "MISSING_REQUIRED_ROLE"
	ErrCodeCodeGenExhausted    = "CODE_GENERATION_EXHAUSTED"
	ErrCodeEliminationConflict = "ELIMINATION_CONFLICT"
	ErrCodeNotifyUnavailable   = "NOTIFY_UNAVAILABLE"
)

// NewSessionNotFoundError はセッション未検出エラーを生成する。
func NewSessionNotFoundError(code string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("指定された合言葉のゲームが見つかりません: %s", code),
		Category: "session",
		Action:   "合言葉コードを確認してください。",
	}
}

// NewParticipantNotFoundError は参加者未検出エラーを生成する。
func NewParticipantNotFoundError(participantID string) *APIError {
	return &APIError{
		Code:     ErrCodeParticipantNotFound,
		Message:  fmt.Sprintf("指定された参加者が見つかりません: %s", participantID),
		Category: "session",
		Action:   "参加者IDを確認してください。",
	}
}

// NewUnauthorizedError はオーナー限定操作を非オーナーが試みた場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "この操作はゲームの作成者のみが実行できます。",
		Category: "auth",
		Action:   "ゲームの作成者に操作を依頼してください。",
	}
}

// NewAlreadyStartedError は開始済みセッションへの不正な操作エラーを生成する。
func NewAlreadyStartedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyStarted,
		Message:  "ゲームはすでに開始されています。",
		Category: "game",
		Action:   "進行中のゲームには途中参加できません。次のゲームをお待ちください。",
	}
}

// NewNotStartedError は未開始セッションへの進行操作エラーを生成する。
func NewNotStartedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotStarted,
		Message:  "ゲームはまだ開始されていません。",
		Category: "game",
		Action:   "ゲームを開始してから操作してください。",
	}
}

// NewDuplicateNameError は表示名の重複エラーを生成する。
// 比較は大文字小文字を区別しない。
func NewDuplicateNameError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateName,
		Message:  fmt.Sprintf("その名前はすでに使われています: %s", name),
		Category: "validation",
		Action:   "別の表示名を入力してください。",
	}
}

// NewInvalidNameError は表示名が空などの不正な場合のエラーを生成する。
func NewInvalidNameError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidName,
		Message:  "表示名が不正です。",
		Category: "validation",
		Action:   "1文字以上32文字以内の表示名を入力してください。",
	}
}

// NewInvalidGameKindError はサポート外のゲーム種類エラーを生成する。
func NewInvalidGameKindError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidGameKind,
		Message:  fmt.Sprintf("サポートされていないゲーム種類です: %s", kind),
		Category: "validation",
		Action:   "jinro または murder を指定してください。",
	}
}

// NewInsufficientPlayersError は参加者数不足エラーを生成する。
func NewInsufficientPlayersError(count int) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientPlayers,
		Message:  fmt.Sprintf("参加者が足りません（現在%d人、最低%d人）。", count, MinParticipants),
		Category: "game",
		Action:   "参加者が揃ってからゲームを開始してください。",
	}
}

// NewRoleCountMismatchError は役職合計と参加者数の不一致エラーを生成する。
func NewRoleCountMismatchError(total, participants int) *APIError {
	return &APIError{
		Code:     ErrCodeRoleCountMismatch,
		Message:  fmt.Sprintf("役職の合計（%d人分）が参加者数（%d人）と一致しません。", total, participants),
		Category: "game",
		Action:   "役職の人数構成を参加者数に合わせて調整してください。",
	}
}

// NewMissingRequiredRoleError は必須役職の欠落エラーを生成する。
func NewMissingRequiredRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingRequiredRole,
		Message:  fmt.Sprintf("必須役職が構成に含まれていません: %s", role),
		Category: "game",
		Action:   fmt.Sprintf("%s を1人以上構成に含めてください。", role),
	}
}

// NewCodeGenerationExhaustedError は合言葉コード生成の試行上限到達エラーを生成する。
func NewCodeGenerationExhaustedError() *APIError {
	return &APIError{
		Code:     ErrCodeCodeGenExhausted,
		Message:  "合言葉コードの生成に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewEliminationConflictError は同時脱落処理の競合エラーを生成する。
func NewEliminationConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeEliminationConflict,
		Message:  "他の脱落処理と競合しました。",
		Category: "game",
		Action:   "最新の状態を確認してから再度お試しください。",
	}
}

// NewNotifyUnavailableError は変更通知チャネルの確立失敗エラーを生成する。
func NewNotifyUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeNotifyUnavailable,
		Message:  "変更通知チャネルを確立できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
