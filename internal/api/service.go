package api

import (
	"context"
	defError "errors"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/errors"
	"collab-sync-server/internal/session"
	"collab-sync-server/internal/store"
	"collab-sync-server/redis"
)

// Service is the internal surface the REST backend consumes. It prefers the
// live replica over the stored snapshot, so the backend always reads the
// freshest state without forcing a flush.
type Service interface {
	DocumentState(ctx context.Context, docID uint64) ([]byte, error)
	CreateDocument(ctx context.Context, ownerID uint64, title string) (*domain.DocumentMetadata, error)
	UpdatePermission(ctx context.Context, docID uint64, userID uint64, email string, role domain.Role) error
	RemoveDocument(ctx context.Context, docID uint64) error
	ActiveConnections(ctx context.Context, docID uint64) int64
}

type DefaultService struct {
	registry *session.Registry
	store    store.Adapter
	presence *redis.Presence
}

func NewService(registry *session.Registry, adapter store.Adapter, presence *redis.Presence) Service {
	return &DefaultService{
		registry: registry,
		store:    adapter,
		presence: presence,
	}
}

func (s *DefaultService) DocumentState(ctx context.Context, docID uint64) ([]byte, error) {
	if _, state, ok := s.registry.SnapshotDocument(docID); ok {
		return state, nil
	}

	_, snapshot, err := s.store.Load(ctx, docID)
	if err != nil {
		if defError.Is(err, store.ErrNotFound) {
			return nil, errors.NotFound("Document not found", err)
		}
		return nil, errors.Internal(err)
	}
	return snapshot, nil
}

func (s *DefaultService) CreateDocument(ctx context.Context, ownerID uint64, title string) (*domain.DocumentMetadata, error) {
	if title == "" {
		title = "Untitled Document"
	}
	meta, err := s.store.Create(ctx, ownerID, title)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return meta, nil
}

func (s *DefaultService) UpdatePermission(ctx context.Context, docID uint64, userID uint64, email string, role domain.Role) error {
	if role != domain.RoleNone && !role.Valid() {
		return errors.UnprocessableEntity("Invalid role", nil)
	}

	var err error
	if role == domain.RoleNone {
		err = s.store.RemoveCollaborator(ctx, docID, userID)
	} else {
		err = s.store.SetCollaborator(ctx, docID, userID, email, role)
	}
	if err != nil {
		if defError.Is(err, store.ErrNotFound) {
			return errors.NotFound("Document not found", err)
		}
		return errors.Internal(err)
	}

	// takes effect on the very next submit of any live connection
	s.registry.PatchPermission(docID, userID, email, role)
	return nil
}

func (s *DefaultService) RemoveDocument(ctx context.Context, docID uint64) error {
	// drop the live session first so no flush resurrects the row
	s.registry.CloseDocument(docID)

	if err := s.store.Delete(ctx, docID); err != nil {
		return errors.Internal(err)
	}
	return nil
}

func (s *DefaultService) ActiveConnections(ctx context.Context, docID uint64) int64 {
	if s.presence == nil {
		return 0
	}
	return s.presence.Count(ctx, docID)
}
