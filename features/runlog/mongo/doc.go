// Package mongo provides a MongoDB-backed runlog.Store so turn audit events
// outlive the process that produced them.
package mongo
