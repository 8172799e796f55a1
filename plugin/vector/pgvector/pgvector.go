// Package pgvector implements the vector backend on PostgreSQL with the
// pgvector extension. Each collection is one table.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/jcp/plugin/vector"
)

// catalogTable records the collections managed by this backend.
const catalogTable = "jcp_vector_collections"

// insertBatchSize bounds the rows bound in one INSERT statement.
const insertBatchSize = 500

type Options struct {
	DSN    string
	Fields vector.Fields
}

type Backend struct {
	dsn    string
	fields vector.Fields

	mu sync.RWMutex
	db *sql.DB
}

func New(opts Options) *Backend {
	return &Backend{dsn: opts.DSN, fields: opts.Fields.WithDefaults()}
}

func (*Backend) Name() string { return "pgvector" }

func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return nil
	}
	if b.dsn == "" {
		return errors.New("dsn required")
	}

	db, err := sql.Open("postgres", b.dsn)
	if err != nil {
		return errors.Wrap(err, "failed to open db with dsn")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "failed to ping postgres")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS ` + catalogTable + ` (
			name TEXT PRIMARY KEY,
			dim INTEGER NOT NULL,
			id_max_length INTEGER NOT NULL,
			loaded BOOLEAN NOT NULL DEFAULT FALSE
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return errors.Wrap(err, "failed to prepare pgvector catalog")
		}
	}
	b.db = db
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *Backend) handle() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, errors.New("pgvector backend is not connected")
	}
	return b.db, nil
}

type catalogEntry struct {
	dim         int
	idMaxLength int
	loaded      bool
}

func (b *Backend) lookup(ctx context.Context, db *sql.DB, name string) (*catalogEntry, error) {
	var entry catalogEntry
	err := db.QueryRowContext(ctx,
		`SELECT dim, id_max_length, loaded FROM `+catalogTable+` WHERE name = $1`, name,
	).Scan(&entry.dim, &entry.idMaxLength, &entry.loaded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up collection %s", name)
	}
	return &entry, nil
}

func (b *Backend) mustLookup(ctx context.Context, db *sql.DB, name string) (*catalogEntry, error) {
	entry, err := b.lookup(ctx, db, name)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errors.Wrap(vector.ErrCollectionNotFound, name)
	}
	return entry, nil
}

func (b *Backend) HasCollection(ctx context.Context, name string) (bool, error) {
	db, err := b.handle()
	if err != nil {
		return false, err
	}
	entry, err := b.lookup(ctx, db, name)
	return entry != nil, err
}

func (b *Backend) DescribeCollection(ctx context.Context, name string) (*vector.Collection, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	entry, err := b.mustLookup(ctx, db, name)
	if err != nil {
		return nil, err
	}
	return &vector.Collection{
		Name: name,
		Dim:  entry.dim,
		Fields: []vector.Field{
			{Name: b.fields.ID, DataType: "VarChar", PrimaryKey: true, MaxLength: entry.idMaxLength},
			{Name: b.fields.Vector, DataType: "FloatVector", Dim: entry.dim},
		},
	}, nil
}

func (b *Backend) LoadCollection(ctx context.Context, name string) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `UPDATE `+catalogTable+` SET loaded = TRUE WHERE name = $1`, name)
	if err != nil {
		return errors.Wrapf(err, "failed to load collection %s", name)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrap(vector.ErrCollectionNotFound, name)
	}
	return nil
}

func (b *Backend) DropCollection(ctx context.Context, name string) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+pq.QuoteIdentifier(name)); err != nil {
		return errors.Wrapf(err, "failed to drop table %s", name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+catalogTable+` WHERE name = $1`, name); err != nil {
		return errors.Wrapf(err, "failed to remove collection %s", name)
	}
	return tx.Commit()
}

func (b *Backend) CreateCollection(ctx context.Context, spec vector.CollectionSpec) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	maxLength := spec.IDMaxLength
	if maxLength <= 0 {
		maxLength = 128
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt := fmt.Sprintf(`CREATE TABLE %s (%s VARCHAR(%d) PRIMARY KEY, %s vector(%d) NOT NULL)`,
		pq.QuoteIdentifier(spec.Name),
		pq.QuoteIdentifier(b.fields.ID), maxLength,
		pq.QuoteIdentifier(b.fields.Vector), spec.Dim)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "failed to create table %s", spec.Name)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+catalogTable+` (name, dim, id_max_length) VALUES ($1, $2, $3)`,
		spec.Name, spec.Dim, maxLength,
	); err != nil {
		return errors.Wrapf(err, "failed to register collection %s", spec.Name)
	}
	return tx.Commit()
}

func (b *Backend) CreateIndex(ctx context.Context, name string, spec vector.IndexSpec) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	if spec.Type == "FLAT" {
		return nil
	}
	if spec.Type != "IVF_FLAT" && spec.Type != "" {
		return errors.Wrapf(vector.ErrUnsupported, "index type %s", spec.Type)
	}
	ops, err := operatorClass(spec.Metric)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (%s %s) WITH (lists = %d)`,
		pq.QuoteIdentifier(name+"_"+b.fields.Vector+"_idx"),
		pq.QuoteIdentifier(name),
		pq.QuoteIdentifier(b.fields.Vector), ops, max(spec.NList, 1))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "failed to create ivfflat index on %s", name)
	}
	return nil
}

func (b *Backend) Insert(ctx context.Context, name string, records []vector.Record) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	if _, err := b.mustLookup(ctx, db, name); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// One statement cannot update the same row twice.
	records = dedupeRecords(records)
	id, vec := pq.QuoteIdentifier(b.fields.ID), pq.QuoteIdentifier(b.fields.Vector)
	for start := 0; start < len(records); start += insertBatchSize {
		batch := records[start:min(start+insertBatchSize, len(records))]
		args := make([]any, 0, len(batch)*2)
		for _, r := range batch {
			args = append(args, r.ID, pgv.NewVector(r.Vector))
		}
		stmt := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES %s ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s`,
			pq.QuoteIdentifier(name), id, vec, valuesRows(len(batch), 2), id, vec, vec)
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return errors.Wrapf(err, "failed to insert into %s", name)
		}
	}
	return tx.Commit()
}

// dedupeRecords keeps the last record for every id, in order of last appearance.
func dedupeRecords(records []vector.Record) []vector.Record {
	last := make(map[string]int, len(records))
	for i, r := range records {
		last[r.ID] = i
	}
	if len(last) == len(records) {
		return records
	}
	out := make([]vector.Record, 0, len(last))
	for i, r := range records {
		if last[r.ID] == i {
			out = append(out, r)
		}
	}
	return out
}

// Flush is a no-op; inserts are visible once committed.
func (*Backend) Flush(context.Context, string) error { return nil }

func (b *Backend) Search(ctx context.Context, req *vector.SearchRequest) ([]vector.Hit, error) {
	if req.Filter != "" {
		return nil, errors.Wrap(vector.ErrUnsupported, "filter expressions are not supported by pgvector")
	}
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	entry, err := b.mustLookup(ctx, db, req.Collection)
	if err != nil {
		return nil, err
	}
	if len(req.Vector) != entry.dim {
		return nil, errors.Wrapf(vector.ErrInvalidQuery, "query dimension %d, collection %s expects %d", len(req.Vector), req.Collection, entry.dim)
	}
	op, score, err := distanceOperator(req.Metric)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if req.NProbe > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", req.NProbe)); err != nil {
			return nil, errors.Wrap(err, "failed to set ivfflat.probes")
		}
	}

	vec := pq.QuoteIdentifier(b.fields.Vector)
	distance := vec + " " + op + " $1"
	query := fmt.Sprintf(`SELECT %s, %s FROM %s ORDER BY %s LIMIT $2`,
		pq.QuoteIdentifier(b.fields.ID), fmt.Sprintf(score, distance), pq.QuoteIdentifier(req.Collection), distance)
	rows, err := tx.QueryContext(ctx, query, pgv.NewVector(req.Vector), req.K)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search %s", req.Collection)
	}
	defer rows.Close()

	hits := make([]vector.Hit, 0, req.K)
	for rows.Next() {
		var hit vector.Hit
		var d float64
		if err := rows.Scan(&hit.ID, &d); err != nil {
			return nil, errors.Wrap(err, "failed to scan search hit")
		}
		hit.Distance = float32(d)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

func (b *Backend) Query(ctx context.Context, name string, ids []string) (map[string][]float32, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	if _, err := b.mustLookup(ctx, db, name); err != nil {
		return nil, err
	}

	id := pq.QuoteIdentifier(b.fields.ID)
	query := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s = ANY($1)`,
		id, pq.QuoteIdentifier(b.fields.Vector), pq.QuoteIdentifier(name), id)
	rows, err := db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", name)
	}
	defer rows.Close()

	out := make(map[string][]float32, len(ids))
	for rows.Next() {
		var key string
		var vec pgv.Vector
		if err := rows.Scan(&key, &vec); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector")
		}
		out[key] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// operatorClass maps a metric to the ivfflat operator class.
func operatorClass(metric vector.Metric) (string, error) {
	switch metric {
	case vector.MetricL2, "":
		return "vector_l2_ops", nil
	case vector.MetricIP:
		return "vector_ip_ops", nil
	case vector.MetricCosine:
		return "vector_cosine_ops", nil
	}
	return "", errors.Wrapf(vector.ErrInvalidQuery, "unknown metric %s", metric)
}

// distanceOperator returns the ordering operator and a format turning the
// operator expression into the score Milvus reports for the metric.
func distanceOperator(metric vector.Metric) (string, string, error) {
	switch metric {
	case vector.MetricL2, "":
		return "<->", "power(%s, 2)", nil
	case vector.MetricIP:
		return "<#>", "-(%s)", nil
	case vector.MetricCosine:
		return "<=>", "1 - (%s)", nil
	}
	return "", "", errors.Wrapf(vector.ErrInvalidQuery, "unknown metric %s", metric)
}

func valuesRows(rows, cols int) string {
	list := make([]string, rows)
	for i := range list {
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", i*cols+j+1)
		}
		list[i] = "(" + strings.Join(ph, ", ") + ")"
	}
	return strings.Join(list, ", ")
}
