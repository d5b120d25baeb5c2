package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/scanward/scanward/internal/config"
	"github.com/scanward/scanward/internal/db"
)

// StoreOperation represents a function that operates on the persistence store.
type StoreOperation func(*db.Store) error

// withStore executes the given operation with a connected store.
// It handles configuration loading, connection setup, and cleanup,
// returning any errors that occur.
func withStore(operation StoreOperation) error {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return fmt.Errorf("error loading config: %v", err)
	}

	database, err := db.Connect(context.Background(), &cfg.Database)
	if err != nil {
		return fmt.Errorf("error connecting to database: %v", err)
	}

	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
		}
	}()

	return operation(db.NewStore(database))
}

// withStoreOrExit executes the given operation with a connected store
// and exits the program if any error occurs. Suitable for CLI commands
// that should terminate on database errors.
func withStoreOrExit(operation func(*db.Store)) {
	err := withStore(func(store *db.Store) error {
		operation(store)
		return nil
	})

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveTarget looks a target up by UUID or by name.
func resolveTarget(ctx context.Context, store *db.Store, ref string) (*db.Target, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return store.Targets.GetByID(ctx, id)
	}
	return store.Targets.GetByName(ctx, ref)
}

// parseID parses a scan or schedule identifier.
func parseID(ref string) (uuid.UUID, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid identifier %q: expected a UUID", ref)
	}
	return id, nil
}
