package library

import (
	"context"
	"fmt"
	"sort"
)

// FindDuplicates reports entity collisions within a book: the same key filed
// under more than one category, and the same translation reused for different
// keys. Both are consistency bugs the store exists to catch.
func (s *Store) FindDuplicates(ctx context.Context, bookID int64) ([]DuplicateGroup, error) {
	entities, err := s.ListEntities(ctx, bookID, "")
	if err != nil {
		return nil, err
	}

	byKey := make(map[string][]Entity)
	byTranslation := make(map[string][]Entity)
	for _, entity := range entities {
		byKey[entity.Key] = append(byKey[entity.Key], entity)
		byTranslation[entity.Translation] = append(byTranslation[entity.Translation], entity)
	}

	var groups []DuplicateGroup
	for key, group := range byKey {
		if len(group) > 1 {
			groups = append(groups, DuplicateGroup{Kind: DuplicateKey, Value: key, Entities: group})
		}
	}
	for translation, group := range byTranslation {
		if len(group) > 1 && distinctKeys(group) {
			groups = append(groups, DuplicateGroup{Kind: DuplicateTranslation, Value: translation, Entities: group})
		}
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Kind != groups[j].Kind {
			return groups[i].Kind < groups[j].Kind
		}
		return groups[i].Value < groups[j].Value
	})
	return groups, nil
}

// FixDuplicates resolves every duplicate group by keeping the entity with the
// highest last_chapter and deleting the rest. Returns the number of entities
// removed.
func (s *Store) FixDuplicates(ctx context.Context, bookID int64) (int, error) {
	groups, err := s.FindDuplicates(ctx, bookID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, group := range groups {
		keep := group.Entities[0]
		for _, entity := range group.Entities[1:] {
			if entity.LastChapter > keep.LastChapter {
				keep = entity
			}
		}
		for _, entity := range group.Entities {
			if entity.ID == keep.ID {
				continue
			}
			res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, entity.ID)
			if err != nil {
				return removed, fmt.Errorf("delete duplicate entity %d: %w", entity.ID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return removed, err
			}
			removed += int(affected)
		}
	}
	return removed, nil
}

func distinctKeys(group []Entity) bool {
	for _, entity := range group[1:] {
		if entity.Key != group[0].Key {
			return true
		}
	}
	return false
}
