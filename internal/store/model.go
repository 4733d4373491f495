package store

import (
	"time"
)

// Document is the durable record: metadata plus the latest binary snapshot
// of the replica state.
type Document struct {
	ID        uint64 `gorm:"primaryKey"`
	Title     string
	OwnerID   uint64 `gorm:"index"`
	Snapshot  []byte `gorm:"type:bytea"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Collaborators []DocumentCollaborator `gorm:"constraint:OnDelete:CASCADE"`
}

type DocumentCollaborator struct {
	ID         uint64 `gorm:"primaryKey"`
	DocumentID uint64 `gorm:"uniqueIndex:idx_doc_user"`
	UserID     uint64 `gorm:"uniqueIndex:idx_doc_user"`
	Email      string
	Role       string
	AddedAt    time.Time
}
