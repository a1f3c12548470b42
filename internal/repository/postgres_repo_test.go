package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/lib/pq"
)

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

// PostgresParticipantRepoはParticipantRepositoryインターフェースを満たすことを検証
func TestPostgresParticipantRepo_ImplementsInterface(t *testing.T) {
	var _ ParticipantRepository = (*PostgresParticipantRepo)(nil)
}

// PostgresChainRepoはChainRepositoryインターフェースを満たすことを検証
func TestPostgresChainRepo_ImplementsInterface(t *testing.T) {
	var _ ChainRepository = (*PostgresChainRepo)(nil)
}

// NewPostgresSessionRepoが正しく初期化されることを検証
func TestNewPostgresSessionRepo_Initializes(t *testing.T) {
	repo := NewPostgresSessionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresParticipantRepoが正しく初期化されることを検証
func TestNewPostgresParticipantRepo_Initializes(t *testing.T) {
	repo := NewPostgresParticipantRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresChainRepoが正しく初期化されることを検証
func TestNewPostgresChainRepo_Initializes(t *testing.T) {
	repo := NewPostgresChainRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// ユニットテスト: UUIDでない参加者IDがクエリに渡らず未発見扱いになること。
// クライアント入力がUUID型カラムに直撃すると22P02でクエリ全体が失敗するため、
// 形式不正はDBに問い合わせる前に弾く（dbがnilでも到達しないことで検証できる）。
func TestParticipantFindByID_RejectsNonUUID(t *testing.T) {
	repo := NewPostgresParticipantRepo(nil)

	for _, id := range []string{"", "ghost", "'; DROP TABLE participants;--"} {
		p, err := repo.FindByID(context.Background(), id)
		if err != nil {
			t.Errorf("FindByID(%q) returned error: %v", id, err)
		}
		if p != nil {
			t.Errorf("FindByID(%q) = %+v, want nil", id, p)
		}
	}
}

// ユニットテスト: pqErrorCodeがSQLSTATEコードで正しく分岐すること
// （DB接続なしでロジックのみ検証）
func TestPqErrorCode_MatchesCode(t *testing.T) {
	uniqueErr := &pq.Error{Code: pqUniqueViolation, Constraint: "sessions_pkey"}

	pqErr, ok := pqErrorCode(uniqueErr, pqUniqueViolation)
	if !ok {
		t.Fatal("expected unique violation to match")
	}
	if pqErr.Constraint != "sessions_pkey" {
		t.Errorf("Constraint = %q, want %q", pqErr.Constraint, "sessions_pkey")
	}

	if _, ok := pqErrorCode(uniqueErr, pqSerializationFailure); ok {
		t.Error("unique violation should not match serialization failure")
	}

	if _, ok := pqErrorCode(errors.New("plain error"), pqUniqueViolation); ok {
		t.Error("plain error should not match any pq code")
	}
}

// ユニットテスト: wrapTxErrorが直列化競合をセンチネルに変換すること
func TestWrapTxError_ConvertsSerializationFailure(t *testing.T) {
	repo := NewPostgresChainRepo(nil)

	serErr := &pq.Error{Code: pqSerializationFailure}
	if got := repo.wrapTxError("read failed", serErr); !errors.Is(got, ErrSerializationConflict) {
		t.Errorf("expected ErrSerializationConflict, got %v", got)
	}

	plain := errors.New("connection reset")
	got := repo.wrapTxError("read failed", plain)
	if errors.Is(got, ErrSerializationConflict) {
		t.Error("plain error should not convert to ErrSerializationConflict")
	}
	if !errors.Is(got, plain) {
		t.Error("wrapped error should preserve the original error")
	}
}
