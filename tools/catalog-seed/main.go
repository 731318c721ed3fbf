package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/studiobook/libs/config"
	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/libs/kafkax"
	"github.com/md-rashed-zaman/studiobook/libs/runtime"
)

func main() {
	if err := config.Load(config.String("CONFIG_FILE", ""), ".env"); err != nil {
		fatal(err.Error())
	}
	var (
		file          = flag.String("file", config.String("CATALOG_FILE", "catalog.toml"), "catalog TOML file")
		retireMissing = flag.Bool("retire", false, "deactivate resources missing from the file")
		dryRun        = flag.Bool("dry-run", false, "validate the file without writing")
	)
	flag.Parse()
	logger := runtime.NewLogger("catalog-seed", config.String("LOG_LEVEL", "info"))

	catalog, err := LoadFile(*file)
	if err != nil {
		fatal(err.Error())
	}
	logger.Info("catalog loaded", "services", len(catalog.Services), "staff", len(catalog.Staff), "rooms", len(catalog.Rooms))
	if *dryRun {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Duration("SEED_TIMEOUT", time.Minute))
	defer cancel()

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		fatal(err.Error())
	}
	pool, err := db.Open(ctx, dbURL, db.PoolConfig{MaxConns: 2})
	if err != nil {
		fatal(err.Error())
	}
	defer pool.Close()

	var res Result
	err = pool.InTx(ctx, func(tx pgx.Tx) error {
		var applyErr error
		res, applyErr = Apply(ctx, tx, catalog, *retireMissing)
		return applyErr
	})
	if err != nil {
		fatal(err.Error())
	}
	logger.Info("catalog applied", "upserted", res.Upserted, "retired", res.Retired)

	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	if len(brokers) == 0 {
		logger.Warn("catalog change not published (no kafka brokers configured)")
		return
	}
	w := kafkax.NewWriter(brokers)
	defer func() { _ = w.Close() }()
	if err := Publish(ctx, w, uuid.NewString(), res.Kinds()); err != nil {
		fatal(err.Error())
	}
	logger.Info("catalog change published", "kinds", res.Kinds())
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
