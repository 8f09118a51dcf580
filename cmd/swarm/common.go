package main

import (
	"context"

	"github.com/metalagman/swarm/internal/config"
	"github.com/metalagman/swarm/internal/db"
)

func openStore(ctx context.Context, cfg config.Config) (*db.Store, func(), error) {
	storeDB, err := db.Open(ctx, layoutFor(cfg).DBPath())
	if err != nil {
		return nil, func() {}, err
	}
	return db.NewStore(storeDB), func() { _ = storeDB.Close() }, nil
}
