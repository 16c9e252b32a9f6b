package store

import "time"

// Page statuses
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// User is an account. Email is stored normalized.
type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	Name         string    `json:"name,omitempty"`
	Role         string    `gorm:"not null;default:viewer" json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Page struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Slug        string     `gorm:"uniqueIndex;not null" json:"slug"`
	Title       string     `gorm:"not null" json:"title"`
	Body        string     `gorm:"type:text" json:"body"`
	Status      string     `gorm:"index;not null;default:draft" json:"status"`
	AuthorID    string     `gorm:"index" json:"author_id,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NavItem is one navigation entry. Children is only populated by NavigationTree
// and by ReplaceNavigation input.
type NavItem struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	Label    string    `gorm:"not null" json:"label"`
	Href     string    `gorm:"not null" json:"href"`
	Position int       `gorm:"index" json:"position"`
	ParentID *uint     `gorm:"index" json:"parent_id,omitempty"`
	Children []NavItem `gorm:"-" json:"children,omitempty"`
}

// Media is metadata for an object in the media bucket. Key is content-addressed.
type Media struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Key         string    `gorm:"uniqueIndex;not null" json:"key"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `gorm:"index;size:64" json:"sha256"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session backs auth.SessionRecord in SQL.
type Session struct {
	ID          string     `gorm:"primaryKey;size:36"`
	UserID      string     `gorm:"index;not null"`
	RefreshHash string     `gorm:"uniqueIndex;size:64;not null"`
	ExpiresAt   time.Time  `gorm:"index"`
	RevokedAt   *time.Time
	CreatedAt   time.Time
}
