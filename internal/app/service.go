package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"taskboard/api/internal/accounts"
	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/email"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

// Session is an authenticated caller, reconstructed from a bearer
// token on every request.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// PresenceUser is one active watcher in a presence listing.
type PresenceUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// dataStore is the persistence collaborator. The realtime subsystem
// never touches it directly; it only sees the session directory.
type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetWorkspace(ctx context.Context, workspaceID string) (store.Workspace, error)
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	IsWorkspaceMember(ctx context.Context, userID, workspaceID string) (bool, error)
	IsTaskParticipant(ctx context.Context, userID, taskID string) (bool, error)
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	CreateAttachment(ctx context.Context, attachment store.Attachment) error
	GetAttachment(ctx context.Context, attachmentID string) (store.Attachment, error)
	ListTaskAttachments(ctx context.Context, taskID string) ([]store.Attachment, error)
}

// refreshStore holds refresh sessions. Redis when configured,
// otherwise Postgres through pgSessions.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID, displayName string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// pgSessions adapts the Postgres store to the refreshStore interface.
// The display name is not stored; lookups join the users table.
type pgSessions struct {
	store dataStore
}

func (p pgSessions) SaveRefreshSession(ctx context.Context, tokenHash, userID, _ string, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, userID, expiresAt)
}

func (p pgSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return p.store.LookupRefreshSession(ctx, tokenHash)
}

func (p pgSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

// blobStore is the file-storage collaborator for attachments.
type blobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	directory *realtime.Directory
	search    *search.Service
	accounts  *accounts.Service
	email     *email.Service
	blob      blobStore
	publisher realtime.Publisher
}

func New(cfg config.Config, dataStore *store.PostgresStore, directory *realtime.Directory, searchService *search.Service) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  pgSessions{store: dataStore},
		directory: directory,
		search:    searchService,
	}
}

// NewWithSessionStore uses an external (Redis) refresh-session store
// instead of Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions refreshStore, directory *realtime.Directory, searchService *search.Service) *Service {
	s := New(cfg, dataStore, directory, searchService)
	s.sessions = sessions
	return s
}

func (s *Service) SetAccountsService(svc *accounts.Service) { s.accounts = svc }
func (s *Service) SetEmailService(svc *email.Service)       { s.email = svc }
func (s *Service) SetBlobStore(b blobStore)                 { s.blob = b }

// SetPublisher wires the realtime hub in for activity broadcasts from
// the HTTP layer.
func (s *Service) SetPublisher(p realtime.Publisher) { s.publisher = p }

func (s *Service) AccountsService() *accounts.Service { return s.accounts }

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap runs startup work that is safe to retry: currently a
// best-effort rebuild of the search index from Postgres.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

// CreateSession issues access and refresh tokens for a signed-in user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and
// a fresh pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, user.DisplayName, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// PrincipalResolver adapts token validation for the WebSocket
// handshake. A token whose subject no longer exists resolves to an
// error, rejecting the connection.
func (s *Service) PrincipalResolver() realtime.PrincipalResolver {
	return realtime.PrincipalResolverFunc(func(ctx context.Context, token string) (realtime.Principal, error) {
		session, err := s.SessionFromToken(ctx, token)
		if err != nil {
			return realtime.Principal{}, err
		}
		return realtime.Principal{ID: session.UserID, Name: session.UserName}, nil
	})
}

// WorkspacePresence lists who is actively watching a workspace. The
// caller must be a member of the workspace.
func (s *Service) WorkspacePresence(ctx context.Context, session Session, workspaceID string) (map[string]any, error) {
	if _, err := s.store.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	member, err := s.store.IsWorkspaceMember(ctx, session.UserID, workspaceID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Not a member of this workspace", nil)
	}

	userIDs := s.directory.WorkspaceUsers(workspaceID)
	return map[string]any{
		"workspaceId": workspaceID,
		"count":       len(userIDs),
		"users":       s.presenceUsers(ctx, userIDs),
	}, nil
}

// TaskPresence lists who is actively watching a task.
func (s *Service) TaskPresence(ctx context.Context, session Session, taskID string) (map[string]any, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	participant, err := s.store.IsTaskParticipant(ctx, session.UserID, taskID)
	if err != nil {
		return nil, err
	}
	if !participant {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Not a participant of this task", nil)
	}

	userIDs := s.directory.TaskUsers(taskID)
	return map[string]any{
		"taskId": taskID,
		"count":  len(userIDs),
		"users":  s.presenceUsers(ctx, userIDs),
	}, nil
}

// presenceUsers resolves directory user ids to display names. A user
// deleted mid-session still appears with an empty name rather than
// failing the whole listing.
func (s *Service) presenceUsers(ctx context.Context, userIDs []string) []PresenceUser {
	users := make([]PresenceUser, 0, len(userIDs))
	for _, id := range userIDs {
		entry := PresenceUser{ID: id}
		if user, err := s.store.GetUserByID(ctx, id); err == nil {
			entry.Name = user.DisplayName
		}
		users = append(users, entry)
	}
	return users
}

// SearchTasks runs a full-text task search. A workspace filter
// requires membership in that workspace.
func (s *Service) SearchTasks(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if q.FilterWorkspaceID != "" {
		member, err := s.store.IsWorkspaceMember(ctx, session.UserID, q.FilterWorkspaceID)
		if err != nil {
			return search.Response{}, err
		}
		if !member {
			return search.Response{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not a member of this workspace", nil)
		}
	}
	return s.search.Search(q), nil
}

// UploadAttachment stores the payload in the blob store and records
// the attachment, then announces it on the workspace activity topic.
func (s *Service) UploadAttachment(ctx context.Context, session Session, taskID, fileName, contentType string, size int64, r io.Reader) (store.Attachment, error) {
	if s.blob == nil {
		return store.Attachment{}, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Attachment{}, err
	}
	participant, err := s.store.IsTaskParticipant(ctx, session.UserID, taskID)
	if err != nil {
		return store.Attachment{}, err
	}
	if !participant {
		return store.Attachment{}, domainError(http.StatusForbidden, "FORBIDDEN", "Not a participant of this task", nil)
	}

	attachment := store.Attachment{
		ID:          util.NewID("att"),
		TaskID:      taskID,
		FileName:    fileName,
		ObjectKey:   taskID + "/" + util.NewID("obj"),
		ContentType: contentType,
		SizeBytes:   size,
		UploadedBy:  session.UserID,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.blob.Put(ctx, attachment.ObjectKey, r, size, contentType); err != nil {
		return store.Attachment{}, fmt.Errorf("store attachment payload: %w", err)
	}
	if err := s.store.CreateAttachment(ctx, attachment); err != nil {
		return store.Attachment{}, fmt.Errorf("record attachment: %w", err)
	}

	if s.publisher != nil {
		s.publisher.Publish(realtime.WorkspaceActivityTopic(task.WorkspaceID), map[string]any{
			"type":     "ATTACHMENT_ADDED",
			"taskId":   taskID,
			"fileName": fileName,
			"userId":   session.UserID,
		})
	}

	return attachment, nil
}

// ListAttachments returns a task's attachment records.
func (s *Service) ListAttachments(ctx context.Context, session Session, taskID string) ([]store.Attachment, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	participant, err := s.store.IsTaskParticipant(ctx, session.UserID, taskID)
	if err != nil {
		return nil, err
	}
	if !participant {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Not a participant of this task", nil)
	}
	return s.store.ListTaskAttachments(ctx, taskID)
}

// OpenAttachment returns the attachment record and an open reader on
// its payload. The caller must close the reader.
func (s *Service) OpenAttachment(ctx context.Context, session Session, attachmentID string) (store.Attachment, io.ReadCloser, error) {
	if s.blob == nil {
		return store.Attachment{}, nil, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}

	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	participant, err := s.store.IsTaskParticipant(ctx, session.UserID, attachment.TaskID)
	if err != nil {
		return store.Attachment{}, nil, err
	}
	if !participant {
		return store.Attachment{}, nil, domainError(http.StatusForbidden, "FORBIDDEN", "Not a participant of this task", nil)
	}

	reader, err := s.blob.Get(ctx, attachment.ObjectKey)
	if err != nil {
		return store.Attachment{}, nil, fmt.Errorf("open attachment payload: %w", err)
	}
	return attachment, reader, nil
}
