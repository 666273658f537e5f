// Package syncer ingests place records from the external catalog API into
// the local datastore. A single-flight orchestrator runs a four-phase
// pipeline (text search, detail fetch, photo catalog, review catalog) on a
// background goroutine and persists an auditable run record.
package syncer
