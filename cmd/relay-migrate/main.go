// Command relay-migrate applies the relay's PostgreSQL schema
// migrations. It runs the SQL files under migrations/ against the
// database named by DATABASE_URL and exits.
package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var (
	source = flag.String("source", "file://migrations", "migration source URL")
	down   = flag.Bool("down", false, "roll back all migrations instead of applying them")
)

func main() {
	flag.Parse()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	m, err := migrate.New(*source, databaseURL)
	if err != nil {
		log.Fatalf("open migrations: %v", err)
	}
	defer m.Close()

	if *down {
		err = m.Down()
	} else {
		err = m.Up()
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("schema already up to date")
		return
	}
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Println("schema rolled back to empty")
		return
	}
	if err != nil {
		log.Fatalf("read version: %v", err)
	}
	log.Printf("schema at version %d (dirty=%v)", version, dirty)
}
