// Package database provides SQLite connectivity for the gateway.
//
// The gateway stores room history snapshots in a local SQLite file so the
// API can answer history queries without InfluxDB.
//
// This package manages:
//   - Opening the file with WAL mode and a busy timeout
//   - Schema migrations read from an fs.FS (see the migrations package)
//   - Health checks for the API health endpoint
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Each migration ships as YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. All queries use parameterised statements
// and the file is created with 0600 permissions.
package database
