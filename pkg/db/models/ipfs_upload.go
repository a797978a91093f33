package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IPFSUpload is an append-only audit row for files pinned through the relay.
type IPFSUpload struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	CID       string    `gorm:"column:cid;not null"`
	Filename  string    `gorm:"column:filename;not null"`
	Size      int64     `gorm:"column:size;not null"`
	URL       string    `gorm:"column:url;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (IPFSUpload) TableName() string {
	return "ipfs_uploads"
}

func (u *IPFSUpload) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
