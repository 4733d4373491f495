package store

import (
	"context"
	defError "errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"collab-sync-server/internal/domain"
	"collab-sync-server/redis"
)

// ErrNotFound is returned when the document does not exist at the metadata
// level.
var ErrNotFound = defError.New("document not found")

// Adapter abstracts durable document storage. Implementations must not be
// assumed to be fast: callers bound every call with a context timeout.
type Adapter interface {
	Load(ctx context.Context, docID uint64) (*domain.DocumentMetadata, []byte, error)
	Save(ctx context.Context, docID uint64, meta *domain.DocumentMetadata, snapshot []byte) error
	Delete(ctx context.Context, docID uint64) error
	Create(ctx context.Context, ownerID uint64, title string) (*domain.DocumentMetadata, error)
	SetCollaborator(ctx context.Context, docID uint64, userID uint64, email string, role domain.Role) error
	RemoveCollaborator(ctx context.Context, docID uint64, userID uint64) error
}

type GormAdapter struct {
	db    *gorm.DB
	cache *redis.Cache
}

func NewGormAdapter(db *gorm.DB, cache *redis.Cache) *GormAdapter {
	return &GormAdapter{db: db, cache: cache}
}

func metaVersionKey(docID uint64) string {
	return fmt.Sprintf("doc:%d:meta:version", docID)
}

func metaCacheKey(docID uint64, version int64) string {
	return fmt.Sprintf("doc:%d:meta:v:%d", docID, version)
}

func (a *GormAdapter) Load(ctx context.Context, docID uint64) (*domain.DocumentMetadata, []byte, error) {
	var doc Document
	err := a.db.WithContext(ctx).Preload("Collaborators").First(&doc, docID).Error
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	meta := toMetadata(&doc)

	// refresh the metadata cache for readers that never open a session
	v := a.cache.GetVersion(ctx, metaVersionKey(docID))
	a.cache.Set(ctx, metaCacheKey(docID, v), meta, 24*time.Hour)

	return meta, doc.Snapshot, nil
}

// LoadMetadata fetches metadata only, through the versioned cache.
func (a *GormAdapter) LoadMetadata(ctx context.Context, docID uint64) (*domain.DocumentMetadata, error) {
	v := a.cache.GetVersion(ctx, metaVersionKey(docID))

	var cached domain.DocumentMetadata
	found, _ := a.cache.Get(ctx, metaCacheKey(docID, v), &cached)
	if found {
		return &cached, nil
	}

	meta, _, err := a.Load(ctx, docID)
	return meta, err
}

func (a *GormAdapter) Save(ctx context.Context, docID uint64, meta *domain.DocumentMetadata, snapshot []byte) error {
	res := a.db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", docID).
		Updates(map[string]any{
			"title":      meta.Title,
			"snapshot":   snapshot,
			"updated_at": meta.LastModified,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (a *GormAdapter) Delete(ctx context.Context, docID uint64) error {
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", docID).
			Delete(&DocumentCollaborator{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Document{}, docID).Error
	})
	if err != nil {
		return err
	}
	a.cache.IncrementVersion(ctx, metaVersionKey(docID))
	return nil
}

func (a *GormAdapter) Create(ctx context.Context, ownerID uint64, title string) (*domain.DocumentMetadata, error) {
	now := time.Now().UTC()
	doc := Document{
		Title:     title,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.db.WithContext(ctx).Create(&doc).Error; err != nil {
		return nil, err
	}
	return toMetadata(&doc), nil
}

func (a *GormAdapter) SetCollaborator(ctx context.Context, docID uint64, userID uint64, email string, role domain.Role) error {
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc Document
		if err := tx.First(&doc, docID).Error; err != nil {
			if defError.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		// owner's role is derived, never stored
		if doc.OwnerID == userID {
			return nil
		}

		var existing DocumentCollaborator
		err := tx.Where("document_id = ? AND user_id = ?", docID, userID).
			First(&existing).Error
		if err == nil {
			return tx.Model(&existing).Update("role", string(role)).Error
		}
		if !defError.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return tx.Create(&DocumentCollaborator{
			DocumentID: docID,
			UserID:     userID,
			Email:      email,
			Role:       string(role),
			AddedAt:    time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return err
	}
	a.cache.IncrementVersion(ctx, metaVersionKey(docID))
	return nil
}

func (a *GormAdapter) RemoveCollaborator(ctx context.Context, docID uint64, userID uint64) error {
	err := a.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", docID, userID).
		Delete(&DocumentCollaborator{}).Error
	if err != nil {
		return err
	}
	a.cache.IncrementVersion(ctx, metaVersionKey(docID))
	return nil
}

func toMetadata(doc *Document) *domain.DocumentMetadata {
	collaborators := make([]domain.Collaborator, 0, len(doc.Collaborators))
	for _, c := range doc.Collaborators {
		collaborators = append(collaborators, domain.Collaborator{
			UserID:  c.UserID,
			Email:   c.Email,
			Role:    domain.Role(c.Role),
			AddedAt: c.AddedAt,
		})
	}

	return &domain.DocumentMetadata{
		ID:            doc.ID,
		Title:         doc.Title,
		OwnerID:       doc.OwnerID,
		Collaborators: collaborators,
		CreatedAt:     doc.CreatedAt,
		LastModified:  doc.UpdatedAt,
	}
}
