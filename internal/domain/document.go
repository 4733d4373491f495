package domain

import (
	"time"
)

// Role is a user's access level on a document.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
	RoleNone   Role = "none"
)

// Valid reports whether r is a role that can be stored on a collaborator.
// RoleOwner is derived from ownership, RoleNone means "remove", so only
// editor and viewer are assignable.
func (r Role) Valid() bool {
	return r == RoleEditor || r == RoleViewer
}

type Collaborator struct {
	UserID  uint64    `json:"user_id"`
	Email   string    `json:"email"`
	Role    Role      `json:"role"`
	AddedAt time.Time `json:"added_at"`
}

// DocumentMetadata is the non-binary part of a stored document.
// The owner is never a member of Collaborators; their role is derived.
type DocumentMetadata struct {
	ID            uint64         `json:"id"`
	Title         string         `json:"title"`
	OwnerID       uint64         `json:"owner_id"`
	Collaborators []Collaborator `json:"collaborators"`
	CreatedAt     time.Time      `json:"created_at"`
	LastModified  time.Time      `json:"last_modified"`
}

// SetCollaborator adds or updates a collaborator entry. Setting the owner is
// a no-op since the owner's role is derived, not stored.
func (m *DocumentMetadata) SetCollaborator(userID uint64, email string, role Role) {
	if userID == m.OwnerID {
		return
	}
	for i := range m.Collaborators {
		if m.Collaborators[i].UserID == userID {
			m.Collaborators[i].Role = role
			return
		}
	}
	m.Collaborators = append(m.Collaborators, Collaborator{
		UserID:  userID,
		Email:   email,
		Role:    role,
		AddedAt: time.Now().UTC(),
	})
}

// RemoveCollaborator deletes the entry for userID if present.
func (m *DocumentMetadata) RemoveCollaborator(userID uint64) {
	for i := range m.Collaborators {
		if m.Collaborators[i].UserID == userID {
			m.Collaborators = append(m.Collaborators[:i], m.Collaborators[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy, so a session can hand metadata out without
// exposing its own collaborator slice.
func (m *DocumentMetadata) Clone() *DocumentMetadata {
	cp := *m
	cp.Collaborators = make([]Collaborator, len(m.Collaborators))
	copy(cp.Collaborators, m.Collaborators)
	return &cp
}
