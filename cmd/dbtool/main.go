package main

import (
	"context"
	"courier-dispatch-service/internal/adapters/repositories"
	"courier-dispatch-service/internal/config"
	"courier-dispatch-service/internal/platform/db"
	"flag"
	"log"
	"os"
	"strings"
)

func main() {
	prune := flag.Bool("prune", false, "delete cached road legs older than database.leg_cache_max_age")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("DISPATCH_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	if strings.TrimSpace(cfg.Database.URL) == "" {
		log.Fatal("DISPATCH_DATABASE_URL is required")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Database.URL, db.DefaultOptions())
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	log.Println("Initializing database schema...")
	if err := repositories.InitSchema(ctx, conn); err != nil {
		log.Fatalf("schema initialization failed: %v", err)
	}
	log.Println("Schema ready.")

	if *prune {
		hours := int(cfg.Database.LegCacheMaxAge.Hours())
		log.Printf("Pruning road legs older than %dh...", hours)
		n, err := repositories.PruneLegCache(ctx, conn, hours)
		if err != nil {
			log.Fatalf("prune failed: %v", err)
		}
		log.Printf("Pruned %d rows.", n)
	}
}
