package database

import (
	"database/sql"
	"fmt"
	"time"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

func parseTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func (db *DB) CreateKeyword(term, category string) (*Keyword, error) {
	res, err := db.conn.Exec(
		"INSERT INTO keywords (term, category) VALUES (?, ?)",
		term, category,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting keyword: %w", err)
	}
	id, _ := res.LastInsertId()
	return db.GetKeyword(id)
}

func (db *DB) GetKeyword(id int64) (*Keyword, error) {
	row := db.conn.QueryRow(
		"SELECT id, term, category, active, created_at FROM keywords WHERE id = ?", id,
	)
	return scanKeyword(row)
}

func (db *DB) KeywordByTerm(term string) (*Keyword, error) {
	row := db.conn.QueryRow(
		"SELECT id, term, category, active, created_at FROM keywords WHERE term = ? COLLATE NOCASE", term,
	)
	return scanKeyword(row)
}

func scanKeyword(row *sql.Row) (*Keyword, error) {
	var k Keyword
	var created string
	err := row.Scan(&k.ID, &k.Term, &k.Category, &k.Active, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning keyword: %w", err)
	}
	k.CreatedAt = parseTime(created)
	return &k, nil
}

func (db *DB) ListKeywords() ([]Keyword, error) {
	rows, err := db.conn.Query(
		"SELECT id, term, category, active, created_at FROM keywords ORDER BY term",
	)
	if err != nil {
		return nil, fmt.Errorf("listing keywords: %w", err)
	}
	defer rows.Close()

	var keywords []Keyword
	for rows.Next() {
		var k Keyword
		var created string
		if err := rows.Scan(&k.ID, &k.Term, &k.Category, &k.Active, &created); err != nil {
			return nil, fmt.Errorf("scanning keyword row: %w", err)
		}
		k.CreatedAt = parseTime(created)
		keywords = append(keywords, k)
	}
	return keywords, rows.Err()
}

// ActiveKeywords returns the terms the search stage queries for.
func (db *DB) ActiveKeywords() ([]Keyword, error) {
	rows, err := db.conn.Query(
		"SELECT id, term, category, active, created_at FROM keywords WHERE active = 1 ORDER BY term",
	)
	if err != nil {
		return nil, fmt.Errorf("listing active keywords: %w", err)
	}
	defer rows.Close()

	var keywords []Keyword
	for rows.Next() {
		var k Keyword
		var created string
		if err := rows.Scan(&k.ID, &k.Term, &k.Category, &k.Active, &created); err != nil {
			return nil, fmt.Errorf("scanning keyword row: %w", err)
		}
		k.CreatedAt = parseTime(created)
		keywords = append(keywords, k)
	}
	return keywords, rows.Err()
}

func (db *DB) UpdateKeyword(id int64, term, category string, active bool) error {
	_, err := db.conn.Exec(
		"UPDATE keywords SET term = ?, category = ?, active = ? WHERE id = ?",
		term, category, active, id,
	)
	if err != nil {
		return fmt.Errorf("updating keyword: %w", err)
	}
	return nil
}

func (db *DB) DeleteKeyword(id int64) error {
	_, err := db.conn.Exec("DELETE FROM keywords WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting keyword: %w", err)
	}
	return nil
}
