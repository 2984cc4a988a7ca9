package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/eye3d/internal/httputil"
)

// DatabaseStats summarizes table sizes for the debug endpoint.
type DatabaseStats struct {
	Path     string         `json:"path"`
	Sessions int            `json:"sessions"`
	Results  int            `json:"results"`
	Version  uint           `json:"schema_version"`
	Tables   map[string]int `json:"tables"`
}

// Stats counts rows in every table.
func (db *DB) Stats() (DatabaseStats, error) {
	stats := DatabaseStats{Path: db.path, Tables: map[string]int{}}
	for _, table := range []string{"sessions", "results"} {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return stats, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats.Tables[table] = n
	}
	stats.Sessions = stats.Tables["sessions"]
	stats.Results = stats.Tables["results"]
	version, _, err := db.MigrateVersion(MigrationsFS())
	if err != nil {
		return stats, err
	}
	stats.Version = version
	return stats, nil
}

// AttachAdminRoutes mounts the SQL console, database stats and a backup
// download under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Eye3D results",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("db-stats", "Row counts and schema version", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := db.Stats()
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to collect stats: %v", err))
			return
		}
		httputil.WriteJSONOK(w, stats)
	}))

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			log.Printf("Failed to stream backup: %v", err)
		}
	}))
}
