// Package mongo provides a MongoDB-backed run.Store. Build the low-level
// client via features/run/mongo/clients/mongo and pass it to NewStore, or call
// NewStoreFromMongo with a driver client.
package mongo
