// Package config loads application configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11: the
// default .env file is loaded once per process, then environment variables
// are parsed into any Go struct annotated with `env` tags.
//
// Usage:
//
//	type DatabaseConfig struct {
//	    URL string `env:"DATABASE_URL,required"`
//	}
//
//	var db DatabaseConfig
//	if err := config.Load(&db); err != nil {
//	    log.Fatalf("parsing env: %v", err)
//	}
//
// Sentinel errors can be compared with errors.Is:
//
//   - ErrParsingConfig – failed to parse env vars into struct.
//   - ErrNilPointer    – nil pointer passed to Load/MustLoad.
package config
