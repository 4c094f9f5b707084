package model

import (
	"context"

	"github.com/mesh-intelligence/depot/internal/row"
	"github.com/mesh-intelligence/depot/pkg/types"
)

// Suite groups series configurations. Suites are identified by their GUID;
// a suite update with a higher version replaces the stored fields.
type Suite struct {
	*row.KeyRow
	GUID        *row.Column[string]
	Name        *row.Column[string]
	Description *row.Column[string]
	Version     *row.Column[int64]
}

func NewSuite(db *row.DB) *Suite {
	s := &Suite{
		GUID:        row.NewString("guid", false),
		Name:        row.NewString("name", false),
		Description: row.NewText("description", true),
		Version:     row.NewLong("version", false),
	}
	s.KeyRow = row.NewKeyRow(db, types.SuitesTable, s.GUID, s.Name, s.Description, s.Version)
	s.SetDuplicateFinder(func(ctx context.Context, db *row.DB) (int64, bool, error) {
		return row.FirstKey(ctx, db, types.SuitesTable, row.SimpleKey{Key: s.GUID})
	})
	return s
}

// FindSuiteByGUID returns the suite with guid, or types.ErrNotFound.
func FindSuiteByGUID(ctx context.Context, db *row.DB, guid string) (*Suite, error) {
	id, found, err := row.FirstKey(ctx, db, types.SuitesTable, row.Equals{Column: "guid", Value: guid})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.ErrNotFound
	}
	return ByID(ctx, db, id, NewSuite)
}
