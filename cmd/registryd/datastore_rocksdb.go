//go:build rocksdb
// +build rocksdb

package main

import (
	"os"

	"github.com/ClearlogHQ/clearlog/internal/registry"
)

// openDataStore opens the RocksDB-backed data store.
func openDataStore() (registry.DataStore, error) {
	config := registry.DefaultRocksDBConfig()
	if path := os.Getenv("DATA_PATH"); path != "" {
		config.Path = path
	}

	return registry.NewRocksDBDataStore(config)
}
