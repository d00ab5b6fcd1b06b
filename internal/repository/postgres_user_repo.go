package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/crmdesk/internal/model"
)

// userColumns はユーザーレコードのSELECT句。
const userColumns = "id, email, name, picture, role, created_at, updated_at, last_signed_in"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定ID（外部IdPのsubject識別子）のユーザーを取得する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	).Scan(
		&user.ID, &user.Email, &user.Name, &user.Picture, &user.Role,
		&user.CreatedAt, &user.UpdatedAt, &user.LastSignedIn,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// Upsert はユーザーをsubject識別子をキーに冪等に作成・更新する。
// 初回ログイン時はINSERT、2回目以降はemail/name/pictureと
// updated_at、last_signed_inを更新する。roleは既存値を維持する。
func (r *PostgresUserRepo) Upsert(ctx context.Context, user *model.User) (*model.User, error) {
	if user.ID == "" {
		return nil, fmt.Errorf("user ID is required for upsert")
	}

	role := user.Role
	if role == "" {
		role = model.RoleUser
	}

	saved := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, name, picture, role)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   email          = EXCLUDED.email,
		   name           = EXCLUDED.name,
		   picture        = EXCLUDED.picture,
		   updated_at     = now(),
		   last_signed_in = now()
		 RETURNING `+userColumns,
		user.ID, user.Email, user.Name, user.Picture, string(role),
	).Scan(
		&saved.ID, &saved.Email, &saved.Name, &saved.Picture, &saved.Role,
		&saved.CreatedAt, &saved.UpdatedAt, &saved.LastSignedIn,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return saved, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
