// cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/rs/zerolog"

	"github.com/unclebandit/dispatch-engine/internal/config"
	"github.com/unclebandit/dispatch-engine/internal/db"
	"github.com/unclebandit/dispatch-engine/internal/repository"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatalf("seeder needs the postgres driver, got %q", cfg.Database.Driver)
	}

	// Seed files default to the sample data; extra paths may be passed as arguments.
	seedFiles := flag.Args()
	if len(seedFiles) == 0 {
		seedFiles = []string{
			"seed/channels.sql",
			"seed/clients.sql",
			"seed/campaigns.sql",
		}
	}

	if err := run(context.Background(), cfg.Database.URL, seedFiles); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Database seeding completed successfully!")
}

func run(ctx context.Context, dsn string, seedFiles []string) error {
	conn, err := db.Open(ctx, dsn, zerolog.Nop())
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := repository.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	fmt.Println("Schema applied.")

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute %s: %w", file, err)
		}
		fmt.Printf("Seeded: %s\n", file)
	}
	return nil
}
