package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FrenchMajesty/ingredient-filter/db/migrations"
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// filterColumns maps each filter to its column, in types.AllFilters order
var filterColumns = []struct {
	filter types.Filter
	column string
}{
	{types.FilterVegan, "is_vegan"},
	{types.FilterVegetarian, "is_vegetarian"},
	{types.FilterHalal, "is_halal"},
	{types.FilterGlutenFree, "is_gluten_free"},
	{types.FilterLactoseIntolerant, "is_lactose_free"},
	{types.FilterNutAllergy, "is_nut_free"},
	{types.FilterAntiInflammatory, "is_anti_inflammatory"},
	{types.FilterLowSugar, "is_low_sugar"},
}

// PostgresStore persists ingredient records in a Postgres table
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a connection pool and verifies connectivity
func NewPostgresStore(ctx context.Context, connString string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to ingredient database")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// RunMigrations applies the embedded schema migrations
func RunMigrations(connString string) error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, connString)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

func selectColumns() string {
	cols := make([]string, 0, len(filterColumns)+3)
	cols = append(cols, "name", "embedding", "source")
	for _, fc := range filterColumns {
		cols = append(cols, fc.column)
	}
	return strings.Join(cols, ", ")
}

func flagToColumn(f types.Flag) *int16 {
	var v int16
	switch f {
	case types.FlagPass:
		v = 1
	case types.FlagFail:
		v = 0
	default:
		return nil
	}
	return &v
}

func columnToFlag(v *int16) types.Flag {
	if v == nil {
		return types.FlagUnknown
	}
	if *v == 0 {
		return types.FlagFail
	}
	return types.FlagPass
}

func scanRecord(row pgx.Row) (types.IngredientRecord, error) {
	var (
		name   string
		blob   []byte
		source string
	)
	values := make([]*int16, len(filterColumns))
	dest := []any{&name, &blob, &source}
	for i := range values {
		dest = append(dest, &values[i])
	}

	if err := row.Scan(dest...); err != nil {
		return types.IngredientRecord{}, err
	}

	embedding, err := DecodeEmbedding(blob)
	if err != nil {
		return types.IngredientRecord{}, err
	}

	flags := make(types.FlagSet, len(filterColumns))
	for i, fc := range filterColumns {
		flags[fc.filter] = columnToFlag(values[i])
	}

	return types.IngredientRecord{
		Name:      name,
		Flags:     flags,
		Embedding: embedding,
		Source:    types.Source(source),
	}, nil
}

// GetExact implements Store
func (p *PostgresStore) GetExact(ctx context.Context, name string) (types.IngredientRecord, error) {
	name = types.NormalizeName(name)
	row := p.pool.QueryRow(ctx,
		`SELECT `+selectColumns()+` FROM ingredients WHERE name = $1`, name)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.IngredientRecord{}, ErrNotFound
		}
		return types.IngredientRecord{}, persistenceErr("get", name, err)
	}
	return rec, nil
}

// Upsert implements Store. Concurrent upserts of one name resolve to the last writer.
func (p *PostgresStore) Upsert(ctx context.Context, record types.IngredientRecord) error {
	record, err := validateRecord(record)
	if err != nil {
		return err
	}

	cols := []string{"name", "embedding", "source"}
	args := []any{record.Name, EncodeEmbedding(record.Embedding), string(record.Source)}
	updates := []string{"embedding = EXCLUDED.embedding", "source = EXCLUDED.source", "updated_at = NOW()"}
	for _, fc := range filterColumns {
		cols = append(cols, fc.column)
		args = append(args, flagToColumn(record.Flags.Get(fc.filter)))
		updates = append(updates, fc.column+" = EXCLUDED."+fc.column)
	}

	placeholders := make([]string, len(args))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := `INSERT INTO ingredients (` + strings.Join(cols, ", ") + `)
		VALUES (` + strings.Join(placeholders, ", ") + `)
		ON CONFLICT (name) DO UPDATE SET ` + strings.Join(updates, ", ")

	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return persistenceErr("upsert", record.Name, err)
	}
	return nil
}

// ListAll implements Store
func (p *PostgresStore) ListAll(ctx context.Context) ([]types.IngredientRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+selectColumns()+` FROM ingredients ORDER BY name`)
	if err != nil {
		return nil, persistenceErr("list", "", err)
	}
	defer rows.Close()

	var out []types.IngredientRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, persistenceErr("list", "", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("list", "", err)
	}
	return out, nil
}

// Clear implements Store
func (p *PostgresStore) Clear(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM ingredients`)
	if err != nil {
		return 0, persistenceErr("clear", "", err)
	}
	deleted := int(tag.RowsAffected())
	p.logger.Info("cleared ingredient cache", "deleted", deleted)
	return deleted, nil
}

// Scan implements Store
func (p *PostgresStore) Scan(ctx context.Context, fn func(types.IngredientRecord) error) error {
	rows, err := p.pool.Query(ctx,
		`SELECT `+selectColumns()+` FROM ingredients WHERE embedding IS NOT NULL`)
	if err != nil {
		return persistenceErr("scan", "", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return persistenceErr("scan", "", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return persistenceErr("scan", "", err)
	}
	return nil
}

// Ping implements Store
func (p *PostgresStore) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return persistenceErr("ping", "", err)
	}
	return nil
}

// Close implements Store
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
