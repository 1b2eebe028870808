package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// ErrNotFound is returned by GetExact when no record exists for the name
var ErrNotFound = errors.New("ingredient not found")

// Store is the durable mapping from normalized ingredient name to its record.
// Upsert must be safe for concurrent use on identical and different keys.
type Store interface {
	GetExact(ctx context.Context, name string) (types.IngredientRecord, error)
	Upsert(ctx context.Context, record types.IngredientRecord) error
	// ListAll returns every record sorted by name. Administrative use only.
	ListAll(ctx context.Context) ([]types.IngredientRecord, error)
	Clear(ctx context.Context) (int, error)
	// Scan calls fn for every record that carries an embedding, in no particular
	// order. Returning an error from fn stops the scan and is returned as-is.
	Scan(ctx context.Context, fn func(types.IngredientRecord) error) error
	Ping(ctx context.Context) error
	Close() error
}

// PersistenceError wraps a storage-layer failure
type PersistenceError struct {
	Op    string
	Name  string
	Cause error
}

func (e *PersistenceError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("store %s %q: %v", e.Op, e.Name, e.Cause)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

func persistenceErr(op, name string, cause error) error {
	return &PersistenceError{Op: op, Name: name, Cause: cause}
}

// validateRecord rejects records that could never be looked up again
func validateRecord(record types.IngredientRecord) (types.IngredientRecord, error) {
	record.Name = types.NormalizeName(record.Name)
	if record.Name == "" {
		return record, persistenceErr("upsert", "", errors.New("record name is empty"))
	}
	if record.Source == "" {
		record.Source = types.SourceExact
	}
	return record, nil
}
