package model

import (
	"time"
)

// User is a registered account. Guests never appear here; they exist only as
// synthesized session ids.
type User struct {
	ID         string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Email      string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name       string    `gorm:"type:varchar(255)" json:"name"`
	AvatarURL  *string   `gorm:"type:text" json:"avatar_url,omitempty"`
	Provider   *string   `gorm:"type:varchar(50)" json:"provider,omitempty"`
	ProviderID *string   `gorm:"type:varchar(255)" json:"provider_id,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Boards []Board `gorm:"foreignKey:OwnerID" json:"boards,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// Board is one canvas document, the unit of isolation for sessions, the
// spatial index and the event log. String id to allow client-generated ids.
type Board struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	OwnerID   *string   `gorm:"type:varchar(64);index" json:"owner_id,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Owner      *User          `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Objects    []CanvasObject `gorm:"foreignKey:BoardID;constraint:OnDelete:CASCADE" json:"objects,omitempty"`
	GuestLinks []GuestLink    `gorm:"foreignKey:BoardID;constraint:OnDelete:CASCADE" json:"guest_links,omitempty"`
}

func (Board) TableName() string {
	return "boards"
}

// CanvasObject is the persisted form of one object on the canvas. The
// x/y/width/height columns mirror the payload so the REST surface can query
// by position without unpacking the jsonb blob.
type CanvasObject struct {
	ID         string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	BoardID    string         `gorm:"type:varchar(64);not null;index" json:"board_id"`
	ObjectType string         `gorm:"type:varchar(50);not null" json:"object_type"`
	X          float64        `gorm:"not null" json:"x"`
	Y          float64        `gorm:"not null" json:"y"`
	Width      float64        `gorm:"default:0" json:"width"`
	Height     float64        `gorm:"default:0" json:"height"`
	Data       string         `gorm:"type:jsonb;not null;default:'{}'" json:"data"` // JSON payload

	CreatedBy      *string    `gorm:"type:varchar(64)" json:"created_by,omitempty"`
	CreatedByGuest *string    `gorm:"type:varchar(100)" json:"created_by_guest,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	IsDeleted      bool       `gorm:"default:false;index" json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`

	// Relations
	Board Board `gorm:"foreignKey:BoardID" json:"board,omitempty"`
}

func (CanvasObject) TableName() string {
	return "canvas_objects"
}

// GuestLink is a shareable code granting board access without an account.
type GuestLink struct {
	ID           string    `gorm:"type:varchar(20);primaryKey" json:"id"`
	BoardID      string    `gorm:"type:varchar(64);not null;index" json:"board_id"`
	ExpiresAt    time.Time `gorm:"not null" json:"expires_at"`
	MaxUses      *int      `json:"max_uses,omitempty"`
	UsageCount   int       `gorm:"default:0" json:"usage_count"`
	PasswordHash *string   `gorm:"type:varchar(255)" json:"-"`
	Permissions  string    `gorm:"type:varchar(20);default:'edit'" json:"permissions"` // 'edit' or 'view'
	CreatedBy    *string   `gorm:"type:varchar(64)" json:"created_by,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`

	// Relations
	Board Board `gorm:"foreignKey:BoardID" json:"board,omitempty"`
}

func (GuestLink) TableName() string {
	return "guest_links"
}
