// Package database opens the plcwatch SQLite file and keeps its schema
// current.
//
// The database holds the controller catalogue, register definitions,
// accounts and the audit trail. Polled values are never written here.
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	...
//	if err := db.Migrate(ctx); err != nil { ... }
//
// Schema changes are pairs of YYYYMMDD_HHMMSS_name.up.sql and .down.sql
// files that the migrations package embeds and registers at init.
package database
