package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gatecode.org/internal/auth"
	"gatecode.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("GATECODE_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "migrations", "Path to SQL migrations")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or GATECODE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status|bootstrap]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	case "bootstrap":
		err = bootstrap(ctx, db)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// bootstrap mints a single-use owner code so the first operator can sign in.
// The plaintext is printed once and cannot be recovered afterwards.
func bootstrap(ctx context.Context, db *sql.DB) error {
	store := auth.NewPGStore(db)
	codes, err := auth.NewCodeService(store)
	if err != nil {
		return err
	}
	maxUses := 1
	plaintext, code, err := codes.Generate(ctx, auth.GenerateParams{
		RoleToAssign: auth.RoleOwner,
		MaxUses:      &maxUses,
		Note:         "bootstrap owner code",
	})
	if err != nil {
		return err
	}
	fmt.Printf("owner access code (shown once): %s\n", plaintext)
	fmt.Printf("display code: %s\n", code.DisplayCode)
	return nil
}
