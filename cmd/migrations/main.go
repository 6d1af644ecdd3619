package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/vncsmyrnk/qvote/internal/adapters/repository/postgres"
	"github.com/vncsmyrnk/qvote/internal/config"
)

// Usage: migrations [db flags] <name|all>
//
// A name such as "create_ledger.up" runs that one file; "all" applies every
// pending up migration.
func main() {
	dbCfg, args, err := config.LoadDatabase("migrations", os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if len(args) < 1 {
		log.Fatal("a migration name is required.")
	}
	migrationName := args[0]

	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if migrationName == "all" {
		if err := postgres.Migrate(context.Background(), db); err != nil {
			log.Fatal(err)
		}
		fmt.Println("Pending migrations applied successfully.")
		return
	}

	fileContent, err := postgres.MigrationContent(migrationName)
	if err != nil {
		log.Fatal(err)
	}

	if _, err := db.Exec(string(fileContent)); err != nil {
		log.Fatalf("Failed to execute SQL file: %v", err)
	}

	fmt.Println("Migration file executed successfully.")
}
