package database

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/0xmetaHQ/merchant-demo/internal/utils"
	_ "modernc.org/sqlite"
)

// SQLiteManager handles all database operations
type SQLiteManager struct {
	dir    string
	cm     *utils.ConfigManager
	db     *sql.DB
	logger *utils.LogsManager
}

// NewSQLiteManager opens the session database under the data directory
func NewSQLiteManager(cm *utils.ConfigManager, logger *utils.LogsManager) (*SQLiteManager, error) {
	paths := utils.GetAppPaths("")
	sqlm := &SQLiteManager{
		dir:    paths.DataDir,
		cm:     cm,
		logger: logger,
	}

	db, err := sqlm.CreateConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %v", err)
	}
	sqlm.db = db

	if err := sqlm.initTables(); err != nil {
		db.Close()
		return nil, err
	}

	return sqlm, nil
}

// NewSQLiteManagerFromDB wraps an already open connection
func NewSQLiteManagerFromDB(db *sql.DB, cm *utils.ConfigManager, logger *utils.LogsManager) (*SQLiteManager, error) {
	sqlm := &SQLiteManager{
		cm:     cm,
		db:     db,
		logger: logger,
	}

	if err := sqlm.initTables(); err != nil {
		return nil, err
	}

	return sqlm, nil
}

func (sqlm *SQLiteManager) initTables() error {
	if err := sqlm.InitAppSettingsTable(); err != nil {
		return fmt.Errorf("failed to initialize app settings table: %v", err)
	}

	if err := sqlm.InitSessionEntriesTable(); err != nil {
		return fmt.Errorf("failed to initialize session entries table: %v", err)
	}

	sqlm.logger.Debug("Database tables initialized", "database")
	return nil
}

// CreateConnection creates and configures the database connection
func (sqlm *SQLiteManager) CreateConnection() (*sql.DB, error) {
	// Make sure we have os specific path separator since we are adding this path to host's path
	dbFileName := sqlm.cm.GetConfigWithDefault("session_db_file", "session.db")
	switch runtime.GOOS {
	case "linux", "darwin":
		dbFileName = filepath.ToSlash(dbFileName)
	case "windows":
		dbFileName = filepath.FromSlash(dbFileName)
	default:
		err := fmt.Errorf("unsupported OS type `%s`", runtime.GOOS)
		return nil, err
	}

	path := filepath.Join(sqlm.dir, dbFileName)

	db, err := sql.Open("sqlite",
		fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)", path))
	if err != nil {
		sqlm.logger.Error(fmt.Sprintf("Can not create database connection. (%s)", err.Error()), "database")
		return nil, err
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		sqlm.logger.Warn(fmt.Sprintf("Failed to enable WAL mode: %s", err.Error()), "database")
	}

	return db, nil
}

// GetDB returns the database connection for direct access if needed
func (sqlm *SQLiteManager) GetDB() *sql.DB {
	return sqlm.db
}

// Close closes the database connection
func (sqlm *SQLiteManager) Close() error {
	if sqlm.db != nil {
		return sqlm.db.Close()
	}
	return nil
}

// PerformMaintenance drops abandoned sessions and optimizes the database
func (sqlm *SQLiteManager) PerformMaintenance() error {
	maxAge := time.Duration(sqlm.cm.GetConfigInt("session_retention_hours", 168, 1, 8760)) * time.Hour
	cleaned, err := sqlm.CleanupStaleSessions(maxAge)
	if err != nil {
		sqlm.logger.Error(fmt.Sprintf("Failed to cleanup stale sessions: %v", err), "database")
	} else if cleaned > 0 {
		sqlm.logger.Info(fmt.Sprintf("Maintenance: cleaned up %d stale session entries", cleaned), "database")
	}

	if _, err := sqlm.db.Exec("PRAGMA optimize;"); err != nil {
		sqlm.logger.Warn(fmt.Sprintf("Failed to optimize database: %v", err), "database")
	}

	return nil
}
