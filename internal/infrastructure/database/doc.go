// Package database opens the SQLite device registry used by the supervisor.
//
// The registry is small and written rarely (firmware version, leftover
// settings), so a single connection in WAL mode is enough. Schema changes
// live as paired .up.sql/.down.sql files embedded by the migrations
// package and are applied with DB.Migrate at startup.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
