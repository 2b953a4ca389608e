// Package provider defines the upstream data source contract, the
// retry-until-success fetch loop, and entity universe enumeration.
package provider

import (
	"context"

	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/stock"
)

// Provider is the external paginated data source.
type Provider interface {
	// Fetch returns every row of schema's dataset for code within window.
	Fetch(ctx context.Context, schema *dataset.Schema, code string, window stock.SyncWindow) (dataset.RowSet, error)
	// ListEntities returns the currently listed securities of one venue
	// (SSE or SZSE) with at least ts_code and name fields.
	ListEntities(ctx context.Context, venue string) (dataset.RowSet, error)
}

// Call is one provider invocation.
type Call func(ctx context.Context) (dataset.RowSet, error)
