//go:build !rocksdb
// +build !rocksdb

package main

import (
	"github.com/ClearlogHQ/clearlog/internal/registry"
)

// openDataStore opens the in-memory data store. Builds with the rocksdb
// tag substitute the durable store instead.
func openDataStore() (registry.DataStore, error) {
	return registry.NewMemoryDataStore(), nil
}
