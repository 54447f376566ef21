package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

type TagInput struct {
	Name  string
	Color string
	Icon  string
}

type TagPatch struct {
	Name  *string
	Color *string
	Icon  *string
}

type TagService struct {
	store ledger.Store
	now   func() time.Time
	newID func() string
}

func NewTagService(store ledger.Store) *TagService {
	return &TagService{store: store, now: time.Now, newID: uuid.NewString}
}

// CreateTag rejects a name the owner already uses, ignoring case.
func (s *TagService) CreateTag(ctx context.Context, ownerID string, in TagInput) (core.Tag, error) {
	t := core.Tag{
		ID:        s.newID(),
		UserID:    ownerID,
		Name:      strings.TrimSpace(in.Name),
		Color:     strings.TrimSpace(in.Color),
		Icon:      in.Icon,
		CreatedAt: s.now(),
	}
	if t.Color == "" {
		t.Color = core.DefaultTagColor
	}
	if err := t.Validate(); err != nil {
		return core.Tag{}, err
	}

	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		if err := ensureTagNameFree(ctx, tx, ownerID, t.Name, ""); err != nil {
			return err
		}
		return tx.InsertTag(ctx, t)
	})
	if err != nil {
		return core.Tag{}, fmt.Errorf("create tag: %w", err)
	}

	slog.InfoContext(ctx, "Tag created", "tag_id", t.ID, "user_id", ownerID)
	return t, nil
}

func (s *TagService) ListTags(ctx context.Context, ownerID string) ([]core.Tag, error) {
	tags, err := s.store.ListTags(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

func (s *TagService) UpdateTag(ctx context.Context, tagID, ownerID string, p TagPatch) (core.Tag, error) {
	var updated core.Tag
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		t, err := ownedTag(ctx, tx, tagID, ownerID)
		if err != nil {
			return err
		}
		if p.Name != nil {
			t.Name = strings.TrimSpace(*p.Name)
		}
		if p.Color != nil && strings.TrimSpace(*p.Color) != "" {
			t.Color = strings.TrimSpace(*p.Color)
		}
		if p.Icon != nil {
			t.Icon = *p.Icon
		}
		if err := t.Validate(); err != nil {
			return err
		}
		if err := ensureTagNameFree(ctx, tx, ownerID, t.Name, t.ID); err != nil {
			return err
		}
		if err := tx.UpdateTag(ctx, t); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return core.Tag{}, fmt.Errorf("update tag: %w", err)
	}
	return updated, nil
}

// DeleteTag keeps the transactions that used the tag, untagged.
func (s *TagService) DeleteTag(ctx context.Context, tagID, ownerID string) error {
	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		if _, err := ownedTag(ctx, tx, tagID, ownerID); err != nil {
			return err
		}
		return tx.DeleteTag(ctx, tagID)
	})
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

// ownedTag hides tags of other users behind ErrNotFound.
func ownedTag(ctx context.Context, tx ledger.Reader, tagID, ownerID string) (core.Tag, error) {
	t, err := tx.GetTag(ctx, tagID)
	if err != nil {
		return core.Tag{}, err
	}
	if t.UserID != ownerID {
		return core.Tag{}, fmt.Errorf("tag %s: %w", tagID, core.ErrNotFound)
	}
	return t, nil
}

func ensureTagNameFree(ctx context.Context, tx ledger.Reader, ownerID, name, selfID string) error {
	existing, err := tx.FindTagByName(ctx, ownerID, name)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID == selfID:
		return nil
	}
	return fmt.Errorf("tag %q already exists: %w", name, core.ErrConflict)
}
