package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email FROM users WHERE id=$1`, userID,
	).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, password_hash FROM users WHERE LOWER(email)=LOWER($1)`, email,
	).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, LOWER($3), $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var ws Workspace
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug FROM workspaces WHERE id=$1`, workspaceID,
	).Scan(&ws.ID, &ws.Name, &ws.Slug)
	if err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, title, description, status, assignee_id, updated_by, updated_at
		FROM tasks WHERE id=$1
	`, taskID).Scan(&task.ID, &task.WorkspaceID, &task.Title, &task.Description,
		&task.Status, &task.AssigneeID, &task.UpdatedBy, &task.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) IsWorkspaceMember(ctx context.Context, userID, workspaceID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM workspace_members WHERE workspace_id=$1 AND user_id=$2)`,
		workspaceID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check workspace membership: %w", err)
	}
	return exists, nil
}

// IsTaskParticipant reports whether the user may receive live updates for the
// task: either an explicit participant or a member of the task's workspace.
func (s *PostgresStore) IsTaskParticipant(ctx context.Context, userID, taskID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM task_participants WHERE task_id=$1 AND user_id=$2
			UNION
			SELECT 1 FROM tasks t
			JOIN workspace_members wm ON wm.workspace_id = t.workspace_id
			WHERE t.id=$1 AND wm.user_id=$2
		)
	`, taskID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check task participation: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, fmt.Errorf("refresh session not found or expired")
		}
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())`, jti,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check access token revocation: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) CreateAttachment(ctx context.Context, attachment Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, task_id, file_name, object_key, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, attachment.ID, attachment.TaskID, attachment.FileName, attachment.ObjectKey,
		attachment.ContentType, attachment.SizeBytes, attachment.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var a Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, file_name, object_key, content_type, size_bytes, uploaded_by, created_at
		FROM attachments WHERE id=$1
	`, attachmentID).Scan(&a.ID, &a.TaskID, &a.FileName, &a.ObjectKey,
		&a.ContentType, &a.SizeBytes, &a.UploadedBy, &a.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return a, nil
}

func (s *PostgresStore) ListTaskAttachments(ctx context.Context, taskID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, file_name, object_key, content_type, size_bytes, uploaded_by, created_at
		FROM attachments WHERE task_id=$1
		ORDER BY created_at DESC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var items []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.FileName, &a.ObjectKey,
			&a.ContentType, &a.SizeBytes, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
