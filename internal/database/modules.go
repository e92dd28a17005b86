package database

import (
	"database/sql"
	"fmt"
)

// SeedModuleSettings inserts the default module rows if they do not exist
// yet. Existing rows keep their enabled flag and config.
func (db *DB) SeedModuleSettings(defaults []ModuleSetting) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning seed transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO module_settings (module_key, name, description, enabled, config)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(module_key) DO NOTHING`,
	)
	if err != nil {
		return fmt.Errorf("preparing seed statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range defaults {
		if _, err := stmt.Exec(m.ModuleKey, m.Name, m.Description, m.Enabled, m.Config); err != nil {
			return fmt.Errorf("seeding module %s: %w", m.ModuleKey, err)
		}
	}
	return tx.Commit()
}

func (db *DB) ListModules() ([]ModuleSetting, error) {
	return db.listModules("")
}

// EnabledModules returns the modules the OSINT stage should run.
func (db *DB) EnabledModules() ([]ModuleSetting, error) {
	return db.listModules(" WHERE enabled = 1")
}

func (db *DB) listModules(clause string) ([]ModuleSetting, error) {
	rows, err := db.conn.Query(
		"SELECT id, module_key, name, description, enabled, config FROM module_settings" +
			clause + " ORDER BY module_key",
	)
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	var modules []ModuleSetting
	for rows.Next() {
		var m ModuleSetting
		if err := rows.Scan(&m.ID, &m.ModuleKey, &m.Name, &m.Description, &m.Enabled, &m.Config); err != nil {
			return nil, fmt.Errorf("scanning module: %w", err)
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

func (db *DB) UpdateModuleSetting(moduleKey string, enabled bool, config string) error {
	_, err := db.conn.Exec(
		"UPDATE module_settings SET enabled = ?, config = ? WHERE module_key = ?",
		enabled, config, moduleKey,
	)
	if err != nil {
		return fmt.Errorf("updating module setting: %w", err)
	}
	return nil
}

func (db *DB) GetAppSetting(key string) (string, error) {
	var value string
	err := db.conn.QueryRow("SELECT value FROM app_settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

func (db *DB) SetAppSetting(key, value string) error {
	_, err := db.conn.Exec(
		`INSERT INTO app_settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

func (db *DB) InsertOsintResult(scanID int64, moduleKey, resultType, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO osint_results (scan_id, module_key, result_type, value) VALUES (?, ?, ?, ?)",
		scanID, moduleKey, resultType, value,
	)
	if err != nil {
		return fmt.Errorf("inserting osint result: %w", err)
	}
	return nil
}

func (db *DB) OsintResultsByScan(scanID int64) ([]OsintResult, error) {
	rows, err := db.conn.Query(
		"SELECT id, scan_id, module_key, result_type, value, created_at FROM osint_results WHERE scan_id = ? ORDER BY id",
		scanID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing osint results: %w", err)
	}
	defer rows.Close()

	var results []OsintResult
	for rows.Next() {
		var r OsintResult
		var scanID sql.NullInt64
		var created string
		if err := rows.Scan(&r.ID, &scanID, &r.ModuleKey, &r.ResultType, &r.Value, &created); err != nil {
			return nil, fmt.Errorf("scanning osint result: %w", err)
		}
		if scanID.Valid {
			r.ScanID = &scanID.Int64
		}
		r.CreatedAt = parseTime(created)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (db *DB) InsertNotificationLog(scanID int64, channel, subject string, success bool, errMsg string) error {
	_, err := db.conn.Exec(
		"INSERT INTO notifications_log (scan_id, channel, subject, success, error) VALUES (?, ?, ?, ?, ?)",
		scanID, channel, subject, success, errMsg,
	)
	if err != nil {
		return fmt.Errorf("inserting notification log: %w", err)
	}
	return nil
}
