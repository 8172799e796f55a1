package sqlite

import (
	"context"
	"strings"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/jcp/store"
)

var profileColumns = strings.Join(store.CellProfileColumns, ", ")

// UpsertCellProfiles replaces rows by id inside one transaction:
// stage, delete matching ids, insert staged rows.
func (d *DB) UpsertCellProfiles(ctx context.Context, profiles []*store.CellProfile) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	staging := quoteIdent("incoming_" + shortuuid.New())
	if _, err := tx.ExecContext(ctx, "CREATE TEMP TABLE "+staging+" AS SELECT "+profileColumns+" FROM profiles WHERE 0"); err != nil {
		return errors.Wrap(err, "failed to create staging table")
	}

	width := len(store.CellProfileColumns)
	for start := 0; start < len(profiles); start += insertBatchSize {
		end := min(start+insertBatchSize, len(profiles))
		batch := profiles[start:end]

		args := make([]any, 0, len(batch)*width)
		for _, p := range batch {
			args = append(args, p.Args()...)
		}
		stmt := "INSERT INTO " + staging + " (" + profileColumns + ") VALUES " + valuesRows(len(batch), width)
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return errors.Wrap(err, "failed to stage profiles")
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM profiles WHERE id IN (SELECT id FROM "+staging+")"); err != nil {
		return errors.Wrap(err, "failed to delete replaced profiles")
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO profiles ("+profileColumns+") SELECT "+profileColumns+" FROM "+staging); err != nil {
		return errors.Wrap(err, "failed to insert profiles")
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE "+staging); err != nil {
		return errors.Wrap(err, "failed to drop staging table")
	}
	return tx.Commit()
}

func (d *DB) ListCellProfiles(ctx context.Context, find *store.FindCellProfile) ([]*store.CellProfile, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if len(find.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(find.IDs))+")")
		for _, id := range find.IDs {
			args = append(args, id)
		}
	}
	if find.Dataset != nil {
		where, args = append(where, "dataset = "+placeholder(len(args)+1)), append(args, *find.Dataset)
	}

	query := "SELECT " + profileColumns + " FROM profiles WHERE " + strings.Join(where, " AND ") + " ORDER BY id"
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list profiles")
	}
	defer rows.Close()

	list := []*store.CellProfile{}
	for rows.Next() {
		p, err := store.ScanCellProfile(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) CountCellProfiles(ctx context.Context, dataset string) (int64, error) {
	query, args := "SELECT COUNT(*) FROM profiles", []any{}
	if dataset != "" {
		query, args = query+" WHERE dataset = ?", append(args, dataset)
	}

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count profiles")
	}
	return count, nil
}
