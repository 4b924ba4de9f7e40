package storage

import (
	"database/sql"

	"github.com/google/uuid"
)

// migrateV002 assigns the database a stable install ID. INSERT OR IGNORE keeps
// an ID restored from elsewhere.
func migrateV002(tx *sql.Tx) error {
	_, err := tx.Exec(
		`INSERT OR IGNORE INTO kv (key, value) VALUES (?, ?)`,
		KeyInstallID, uuid.NewString(),
	)
	return err
}
