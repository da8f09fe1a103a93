package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medreg-data/regsync/internal/db"
)

// regsyncPool creates the shared pgx pool from config.
func regsyncPool(ctx context.Context) (*pgxpool.Pool, error) {
	return db.Connect(ctx, cfg.Database.URL)
}
