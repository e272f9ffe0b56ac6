// Package mongo provides a MongoDB-backed session.Store. Build the low-level
// client via features/session/mongo/clients/mongo and pass it to NewStore so
// thread checkpoints survive process restarts.
package mongo
