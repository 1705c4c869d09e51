package database

import (
	"database/sql"
	"fmt"
	"time"

	"docsync/config"
	"docsync/pkg/logger"

	_ "github.com/lib/pq"
)

// DSN builds the lib/pq connection string from the configured credentials.
func DSN(cfg config.Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode)
}

func Connect(cfg config.Config) *sql.DB {
	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		logger.Sugar.Fatalf("Failed to open database connection: %v", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	for i := 0; i < 5; i++ {
		if err = db.Ping(); err == nil {
			logger.Sugar.Info("Successfully connected to the database")
			return db
		}
		logger.Sugar.Infof("Database connection failed, retrying in 2s... (%v)", err)
		time.Sleep(2 * time.Second)
	}
	logger.Sugar.Fatal("Could not connect to database after retries.")
	return nil
}
