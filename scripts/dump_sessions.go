package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/0xmetaHQ/merchant-demo/internal/utils"
	_ "modernc.org/sqlite"
)

func RunDumpSessions(args []string) {
	dbPath := filepath.Join(utils.GetAppPaths("").DataDir, "session.db")
	if len(args) > 0 {
		dbPath = args[0]
	}

	// Connect to database (using modernc.org/sqlite driver name)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	var active string
	db.QueryRow("SELECT value FROM app_settings WHERE key = 'active_session_id'").Scan(&active)

	rows, err := db.Query(`SELECT session_id, key, value, updated_at
	                       FROM session_entries ORDER BY session_id, key`)
	if err != nil {
		fmt.Printf("Failed to query sessions: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()

	current := ""
	for rows.Next() {
		var sessionID, key, value string
		var updatedAt int64
		if err := rows.Scan(&sessionID, &key, &value, &updatedAt); err != nil {
			fmt.Printf("Failed to read row: %v\n", err)
			os.Exit(1)
		}

		if sessionID != current {
			current = sessionID
			marker := ""
			if sessionID == active {
				marker = " (active)"
			}
			fmt.Printf("\nSession %s%s\n", sessionID, marker)
		}

		if len(value) > 80 {
			value = value[:77] + "..."
		}
		fmt.Printf("  %-24s %-60s %s\n", key, value, time.Unix(updatedAt, 0).Format(time.RFC3339))
	}
}
