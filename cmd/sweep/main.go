// Command sweep marks expired sessions inactive. Run it from cron; the
// operation is idempotent.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"goldilocks.org/internal/account"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()

	dsn := os.Getenv("GOLDILOCKS_PG_DSN")
	if dsn == "" {
		log.Fatal("missing DSN: set GOLDILOCKS_PG_DSN")
	}

	pg, err := account.OpenPG(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := account.NewService(pg)
	n, err := svc.CleanupExpiredSessions(ctx)
	if err != nil {
		log.Fatalf("sweep sessions: %v", err)
	}
	log.Printf("swept %d expired sessions", n)
}
