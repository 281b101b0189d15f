package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/bountyforge/bountyforge-ledger/internal/app"
	"github.com/bountyforge/bountyforge-ledger/internal/config"
	"github.com/bountyforge/bountyforge-ledger/internal/service"
)

func main() {
	configPath := flag.String("config", "configs/ledger.yaml", "path to ledger config")
	fixturePath := flag.String("file", "", "path to bounty fixture yaml")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "-file is required")
		os.Exit(1)
	}

	cfg, err := config.LoadImport(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	fixture, err := service.LoadFixture(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixture error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	summary, err := service.NewImporter(store, cfg.Ledger.ProgramID).Import(ctx, fixture)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import error: %v\n", err)
		store.Close()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(os.Stderr, "encode summary error: %v\n", err)
		os.Exit(1)
	}
}
