// Package main provides a CLI tool for setting account capability levels.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/saltmarsh-games/shardd/internal/config"
	"github.com/saltmarsh-games/shardd/internal/storage/postgres"
)

var capabilities = map[string]int{
	"player": postgres.CapPlayer,
	"gm":     postgres.CapGameMaster,
	"admin":  postgres.CapAdmin,
}

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	username := flag.String("username", "", "target account username (required)")
	level := flag.String("capability", "", "capability to assign: player, gm, or admin (required)")
	flag.Parse()

	if *username == "" || *level == "" {
		flag.Usage()
		os.Exit(1)
	}

	capLevel, ok := capabilities[*level]
	if !ok {
		log.Fatalf("invalid capability %q: must be one of player, gm, admin", *level)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewAccountRepository(pool.DB())

	acct, err := repo.GetByUsername(ctx, *username)
	if err != nil {
		log.Fatalf("looking up account %q: %v", *username, err)
	}

	if err := repo.SetCapability(ctx, acct.ID, capLevel); err != nil {
		log.Fatalf("setting capability: %v", err)
	}

	elapsed := time.Since(start)
	fmt.Fprintf(os.Stdout, "set capability for %s (#%d): %d -> %d [%s]\n",
		acct.Username, acct.ID, acct.Capability, capLevel, elapsed)
}
