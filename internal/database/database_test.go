package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/brightpath/backend/internal/config"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{
		DBHost: "db", DBPort: "5433", DBUser: "u", DBPassword: "p", DBName: "game", DBSSLMode: "require",
	}
	want := "host=db port=5433 user=u password=p dbname=game sslmode=require"
	if got := DSN(cfg); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}

	cfg.DatabaseURL = "postgres://u:p@db/game"
	if got := DSN(cfg); got != cfg.DatabaseURL {
		t.Errorf("DSN() = %q, want DATABASE_URL", got)
	}
}

func TestMigrationsArePaired(t *testing.T) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 {
		t.Fatal("no embedded migrations")
	}

	seen := map[string]int{}
	for _, name := range names {
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			seen[strings.TrimSuffix(name, ".up.sql")]++
		case strings.HasSuffix(name, ".down.sql"):
			seen[strings.TrimSuffix(name, ".down.sql")]--
		default:
			t.Errorf("unexpected migration file %s", name)
		}
	}
	for version, balance := range seen {
		if balance != 0 {
			t.Errorf("migration %s has no matching up/down pair", version)
		}
	}
}
