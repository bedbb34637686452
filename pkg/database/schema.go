package database

import (
	"context"
	"fmt"

	dbsql "soapbox/pkg/database/sql"
	"soapbox/pkg/logging"
)

// ApplySchema executes the embedded schema files in order. The DDL is
// idempotent (CREATE ... IF NOT EXISTS), so this runs on every startup.
func ApplySchema(ctx context.Context, db PostgresConn, logger logging.Logger) error {
	files, err := dbsql.SchemaFiles()
	if err != nil {
		return fmt.Errorf("list schema files: %w", err)
	}

	for _, name := range files {
		content, err := dbsql.ReadSchema(name)
		if err != nil {
			return fmt.Errorf("read schema %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply schema %s: %w", name, err)
		}
		logger.WithField("schema", name).Info("Schema applied")
	}
	return nil
}
