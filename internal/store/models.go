package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Workspace struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Task struct {
	ID          string
	WorkspaceID string
	Title       string
	Description string
	Status      string
	AssigneeID  *string
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Attachment struct {
	ID          string
	TaskID      string
	FileName    string
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	CreatedAt   time.Time
}
