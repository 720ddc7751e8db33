// Package archive copies dispatched realtime events into Postgres.
//
// A Writer registers as a listener on the event dispatcher. Listeners only
// append to an in-memory Buffer, so the dispatch path never waits on the
// database; a background loop drains the buffer in batches and inserts them
// into the realtime_events table with pgx.Batch.
//
// The buffer grows at 70% fill up to a maximum capacity. Once full, the
// oldest events are evicted and counted as dropped.
package archive
