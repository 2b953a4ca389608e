package provider

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/stocksync/internal/dataset"
	"github.com/JakeFAU/stocksync/internal/stock"
)

// Universe lists the entities of the selected exchanges, Shanghai first,
// without duplicates. Venue listings run concurrently through the retrier.
func Universe(ctx context.Context, p Provider, r *Retrier, exchange stock.Exchange) ([]stock.Entity, error) {
	venues := exchange.Venues()
	listings := make([]dataset.RowSet, len(venues))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(venues))
	for i, venue := range venues {
		g.Go(func() error {
			rows, err := r.FetchUntilSuccess(gctx, "stock_basic", func(ctx context.Context) (dataset.RowSet, error) {
				return p.ListEntities(ctx, venue)
			})
			if err != nil {
				return fmt.Errorf("list %s: %w", venue, err)
			}
			listings[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []stock.Entity
	for _, rs := range listings {
		for i := 0; i < rs.Len(); i++ {
			row := rs.Row(i)
			code, _ := row[dataset.CodeColumn].(string)
			if code == "" || seen[code] {
				continue
			}
			seen[code] = true
			name, _ := row[dataset.NameColumn].(string)
			out = append(out, stock.Entity{Code: code, Name: name})
		}
	}
	return out, nil
}
