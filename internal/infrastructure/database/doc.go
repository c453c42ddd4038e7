// Package database provides SQLite storage for the cat feeder.
//
// The feeder keeps very little on disk: the summary of the most recent
// feeding job, so status reports survive a restart. The package still
// follows the usual layout of a connection wrapper plus embedded,
// versioned migrations.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
