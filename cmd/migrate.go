/*
Copyright 2026 ReelScript Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package main provides the CLI commands for managing database migrations.
This includes commands for applying and rolling back migrations.
*/

package main

import (
	"database/sql"
	"fmt"
	"log"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/reelscript/reelscript"
	"github.com/reelscript/reelscript/config"
	"github.com/reelscript/reelscript/database"
)

const schema = "reelscript"

func migrationSource() migrate.EmbedFileSystemMigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: reelscript.SQLFiles,
		Root:       "sql",
	}
}

// openMigrationDB connects and makes sure the schema holding the migration
// table exists before sql-migrate looks for it.
func openMigrationDB() (*sql.DB, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, fmt.Errorf("error fetching config: %w", err)
	}

	db, err := database.ConnectDB(cnf.DataSource.Dns)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + schema); err != nil {
		return nil, fmt.Errorf("error creating schema: %w", err)
	}
	migrate.SetSchema(schema)
	return db, nil
}

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(_ *reelscriptInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run reelscript database migrations",
	}

	cmd.AddCommand(migrateUpCommands())
	cmd.AddCommand(migrateDownCommands())

	return cmd
}

func migrateUpCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use: "up",
		Run: func(cmd *cobra.Command, args []string) {
			db, err := openMigrationDB()
			if err != nil {
				log.Print(err)
				return
			}

			n, err := migrate.Exec(db, "postgres", migrationSource(), migrate.Up)
			if err != nil {
				log.Printf("Error migrating up: %v", err)
			} else {
				fmt.Printf("Applied %d migrations!\n", n)
			}
		},
	}

	return cmd
}

func migrateDownCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use: "down",
		Run: func(cmd *cobra.Command, args []string) {
			db, err := openMigrationDB()
			if err != nil {
				log.Print(err)
				return
			}

			n, err := migrate.Exec(db, "postgres", migrationSource(), migrate.Down)
			if err != nil {
				log.Printf("Error migrating down: %v", err)
			} else {
				fmt.Printf("Rolled back %d migrations!\n", n)
			}
		},
	}

	return cmd
}
