package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VersionColumn holds the remote timestamp (unix seconds) of the snapshot
// that last wrote a row.
const VersionColumn = "remote_updated_at"

// UpsertSpec describes how a remote snapshot lands on an existing row.
type UpsertSpec struct {
	// Key is the unique column the snapshot is matched on.
	Key string
	// Always columns are overwritten by every snapshot.
	Always []string
	// Versioned columns are overwritten only by a snapshot that is not older
	// than the one already stored. Equal versions re-apply.
	Versioned []string
}

// Upsert inserts row or merges it into the row sharing its key, in a single
// statement, then reloads the stored state into row.
func Upsert[T any](ctx context.Context, tx *gorm.DB, spec UpsertSpec, keyValue any, row *T) error {
	if spec.Key == "" {
		return fmt.Errorf("upsert: missing key column")
	}

	current := clause.Column{Table: clause.CurrentTable, Name: VersionColumn}
	incoming := clause.Column{Table: "excluded", Name: VersionColumn}

	set := make(clause.Set, 0, len(spec.Always)+len(spec.Versioned)+2)
	for _, col := range spec.Always {
		set = append(set, clause.Assignment{
			Column: clause.Column{Name: col},
			Value:  clause.Column{Table: "excluded", Name: col},
		})
	}
	for _, col := range spec.Versioned {
		set = append(set, clause.Assignment{
			Column: clause.Column{Name: col},
			Value: gorm.Expr("CASE WHEN ? <= ? THEN ? ELSE ? END",
				current, incoming,
				clause.Column{Table: "excluded", Name: col},
				clause.Column{Table: clause.CurrentTable, Name: col},
			),
		})
	}
	set = append(set,
		clause.Assignment{
			Column: clause.Column{Name: VersionColumn},
			Value:  gorm.Expr("CASE WHEN ? < ? THEN ? ELSE ? END", current, incoming, incoming, current),
		},
		clause.Assignment{
			Column: clause.Column{Name: "updated_at"},
			Value:  clause.Column{Table: "excluded", Name: "updated_at"},
		},
	)

	err := tx.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: spec.Key}},
			DoUpdates: set,
		}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert by %s: %w", spec.Key, err)
	}

	var stored T
	if err := tx.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: spec.Key}, Value: keyValue}).Take(&stored).Error; err != nil {
		return fmt.Errorf("reload after upsert by %s: %w", spec.Key, err)
	}
	*row = stored
	return nil
}

// InsertOnce inserts row unless one with the same key exists. It reports
// whether a row was written.
func InsertOnce(ctx context.Context, tx *gorm.DB, key string, row any) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: key}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
