package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// DBExecutor is an interface that allows methods to accept either *sql.DB or *sql.Tx
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// maxINParams keeps batched IN lists well below SQLite's host parameter limit.
const maxINParams = 500

// isUniqueConstraintErr returns true when the error indicates a unique/constraint violation
func isUniqueConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// chunks splits values into slices of at most maxINParams.
func chunks(values []string) [][]string {
	var out [][]string
	for len(values) > maxINParams {
		out = append(out, values[:maxINParams])
		values = values[maxINParams:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// CreateOrGetToken returns the id of the token row, inserting it if absent.
func CreateOrGetToken(ctx context.Context, db DBExecutor, token string) (int64, error) {
	if strings.TrimSpace(token) == "" {
		return 0, fmt.Errorf("token must be non-empty")
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO tokens (token) VALUES (?) ON CONFLICT(token) DO NOTHING`, token); err != nil {
		return 0, fmt.Errorf("insert token %s: %w", token, err)
	}
	var id int64
	if err := db.QueryRowContext(ctx, `SELECT id FROM tokens WHERE token = ?`, token).Scan(&id); err != nil {
		return 0, fmt.Errorf("select token %s: %w", token, err)
	}
	return id, nil
}

// CreateOrGetSeenForm returns the id of the seen form matching every field of
// sf, inserting it if absent. The token row must already exist.
func CreateOrGetSeenForm(ctx context.Context, db DBExecutor, sf SeenForm) (int64, error) {
	args := []interface{}{
		sf.Token, sf.Surface, sf.POS, sf.POS1, sf.POS2, sf.POS3,
		sf.ConjugationType, sf.ConjugationForm, sf.Reading, sf.Pronunciation,
	}
	_, err := db.ExecContext(ctx, `INSERT INTO seen_forms
		(token, surface, pos, pos1, pos2, pos3, conjugation_type, conjugation_form, reading, pronunciation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`, args...)
	if err != nil {
		return 0, fmt.Errorf("insert seen form %s/%s: %w", sf.Token, sf.Surface, err)
	}

	var id int64
	err = db.QueryRowContext(ctx, `SELECT id FROM seen_forms
		WHERE token = ? AND surface = ? AND pos = ? AND pos1 = ? AND pos2 = ? AND pos3 = ?
		  AND conjugation_type = ? AND conjugation_form = ? AND reading = ? AND pronunciation = ?`, args...).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("select seen form %s/%s: %w", sf.Token, sf.Surface, err)
	}
	return id, nil
}

// GetLineBySource returns the cached line for an exact source text.
// ok is false when the text has never been translated.
func GetLineBySource(ctx context.Context, db DBExecutor, source string) (line Line, ok bool, err error) {
	err = db.QueryRowContext(ctx,
		`SELECT id, source, translation FROM lines WHERE source = ? ORDER BY id LIMIT 1`, source,
	).Scan(&line.ID, &line.Source, &line.Translation)
	if errors.Is(err, sql.ErrNoRows) {
		return Line{}, false, nil
	}
	if err != nil {
		return Line{}, false, err
	}
	return line, true, nil
}

// GetLinesBySource returns the cached lines for the given source texts, keyed
// by source. Texts without a cached translation are absent from the map.
func GetLinesBySource(ctx context.Context, db DBExecutor, sources []string) (map[string]Line, error) {
	out := make(map[string]Line, len(sources))
	for _, chunk := range chunks(sources) {
		rows, err := db.QueryContext(ctx,
			`SELECT id, source, translation FROM lines WHERE source IN (`+placeholders(len(chunk))+`) ORDER BY id`,
			toArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var l Line
			if err := rows.Scan(&l.ID, &l.Source, &l.Translation); err != nil {
				rows.Close()
				return nil, err
			}
			// Keep the oldest row if two writers ever raced on the same text.
			if _, seen := out[l.Source]; !seen {
				out[l.Source] = l
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// CreateOrGetLine stores a translated line if absent and returns the stored row.
func CreateOrGetLine(ctx context.Context, db DBExecutor, source, translation string) (Line, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return Line{}, fmt.Errorf("line source must be non-empty")
	}

	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		line := Line{Source: trimmed, Translation: translation}
		err := db.QueryRowContext(ctx,
			`SELECT id FROM lines WHERE source = ? AND translation = ?`, trimmed, translation,
		).Scan(&line.ID)
		if err == nil {
			return line, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Line{}, err
		}

		res, err := db.ExecContext(ctx, `INSERT INTO lines (source, translation) VALUES (?, ?)`, trimmed, translation)
		if err != nil {
			// Someone else stored the same pair first; read it back.
			if isUniqueConstraintErr(err) {
				continue
			}
			return Line{}, err
		}
		line.ID, err = res.LastInsertId()
		return line, err
	}

	return Line{}, fmt.Errorf("could not create or get line after %d retries", maxRetries)
}

// LinkExample records that token appeared as seenFormID in lineID.
// created is false when the example already existed.
func LinkExample(ctx context.Context, db DBExecutor, token string, seenFormID, lineID int64) (created bool, err error) {
	if seenFormID <= 0 {
		return false, fmt.Errorf("seenFormID must be positive")
	}
	if lineID <= 0 {
		return false, fmt.Errorf("lineID must be positive")
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO examples (token, seen_form_id, line_id) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		token, seenFormID, lineID)
	if err != nil {
		return false, fmt.Errorf("link example %s: %w", token, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListExamples returns every example recorded for token, oldest first.
func ListExamples(ctx context.Context, db DBExecutor, token string) ([]Example, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT e.id, e.token, e.seen_form_id, e.line_id, sf.surface, l.source, l.translation
		FROM examples e
		JOIN seen_forms sf ON sf.id = e.seen_form_id
		JOIN lines l ON l.id = e.line_id
		WHERE e.token = ?
		ORDER BY e.id`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Example
	for rows.Next() {
		var e Example
		if err := rows.Scan(&e.ID, &e.Token, &e.SeenFormID, &e.LineID, &e.Surface, &e.Source, &e.Translation); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResolvedTokens reports which of the given tokens already have either a
// dictionary entry or an unresolved record.
func ResolvedTokens(ctx context.Context, db DBExecutor, tokens []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, chunk := range chunks(tokens) {
		ph := placeholders(len(chunk))
		args := append(toArgs(chunk), toArgs(chunk)...)
		rows, err := db.QueryContext(ctx,
			`SELECT token FROM dictionary_entries WHERE token IN (`+ph+`)
			 UNION
			 SELECT token FROM unresolved_tokens WHERE token IN (`+ph+`)`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var tok string
			if err := rows.Scan(&tok); err != nil {
				rows.Close()
				return nil, err
			}
			out[tok] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// InsertDictionaryEntry stores entry unless the token already has an entry or
// an unresolved record. created reports whether a row was written.
func InsertDictionaryEntry(ctx context.Context, db DBExecutor, entry DictionaryEntry) (created bool, err error) {
	if _, err := CreateOrGetToken(ctx, db, entry.Token); err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO dictionary_entries (token, best_match, multiple_results, direct_match)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM unresolved_tokens WHERE token = ?)
		ON CONFLICT DO NOTHING`,
		entry.Token, entry.BestMatch, entry.MultipleResults, entry.DirectMatch, entry.Token)
	if err != nil {
		return false, fmt.Errorf("insert dictionary entry %s: %w", entry.Token, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InsertUnresolvedToken flags token for manual review unless it already has a
// dictionary entry or an unresolved record.
func InsertUnresolvedToken(ctx context.Context, db DBExecutor, token string) (created bool, err error) {
	if _, err := CreateOrGetToken(ctx, db, token); err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO unresolved_tokens (token, resolved)
		SELECT ?, 0
		WHERE NOT EXISTS (SELECT 1 FROM dictionary_entries WHERE token = ?)
		ON CONFLICT DO NOTHING`, token, token)
	if err != nil {
		return false, fmt.Errorf("insert unresolved token %s: %w", token, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetDictionaryEntry returns the cached entry for token; ok is false if none.
func GetDictionaryEntry(ctx context.Context, db DBExecutor, token string) (entry DictionaryEntry, ok bool, err error) {
	err = db.QueryRowContext(ctx,
		`SELECT token, best_match, multiple_results, direct_match, created_at FROM dictionary_entries WHERE token = ?`, token,
	).Scan(&entry.Token, &entry.BestMatch, &entry.MultipleResults, &entry.DirectMatch, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DictionaryEntry{}, false, nil
	}
	if err != nil {
		return DictionaryEntry{}, false, err
	}
	return entry, true, nil
}

// ListUnresolvedTokens returns unresolved records, oldest first. Records
// already marked resolved are included only when all is true.
func ListUnresolvedTokens(ctx context.Context, db DBExecutor, all bool) ([]UnresolvedToken, error) {
	query := `SELECT token, resolved, created_at FROM unresolved_tokens`
	if !all {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY created_at, token`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnresolvedToken
	for rows.Next() {
		var u UnresolvedToken
		if err := rows.Scan(&u.Token, &u.Resolved, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// MarkResolved flips the manual resolution flag. ok is false when token has
// no unresolved record.
func MarkResolved(ctx context.Context, db DBExecutor, token string) (ok bool, err error) {
	res, err := db.ExecContext(ctx, `UPDATE unresolved_tokens SET resolved = 1 WHERE token = ?`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountRows returns the number of rows in every table.
func CountRows(ctx context.Context, db DBExecutor) (Counts, error) {
	var c Counts
	targets := []struct {
		table string
		dst   *int
	}{
		{"tokens", &c.Tokens},
		{"seen_forms", &c.SeenForms},
		{"lines", &c.Lines},
		{"examples", &c.Examples},
		{"dictionary_entries", &c.DictionaryEntries},
		{"unresolved_tokens", &c.UnresolvedTokens},
	}
	for _, t := range targets {
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t.table).Scan(t.dst); err != nil {
			return Counts{}, fmt.Errorf("count %s: %w", t.table, err)
		}
	}
	return c, nil
}
