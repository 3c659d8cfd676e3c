// Package pg bootstraps the PostgreSQL layer: pooled connectivity via
// pgx/v5, schema migrations via goose/v3, a health check closure, and
// error classification helpers used by the billing stores.
//
// Usage:
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    panic(err)
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, slog.Default()); err != nil {
//	    panic(err)
//	}
package pg
