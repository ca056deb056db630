// Package docstore keeps case documents: file bytes on disk under a root
// directory, metadata in the documents table.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"bops/internal/domain"
)

var ErrNotFound = errors.New("document not found")

type Store struct {
	DB *sql.DB
	// Root is where file contents are written. Empty keeps metadata only.
	Root string
}

// Put writes content for a new document and returns its storage key.
func (s Store) Put(caseID, docID, name string, content io.Reader) (string, error) {
	key := filepath.ToSlash(filepath.Join(caseID, docID+"-"+sanitize(name)))
	if s.Root == "" || content == nil {
		return key, nil
	}
	path := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	return key, f.Close()
}

// Discard removes the content behind key, used when the metadata insert fails.
func (s Store) Discard(key string) {
	if s.Root == "" || key == "" {
		return
	}
	_ = os.Remove(filepath.Join(s.Root, filepath.FromSlash(key)))
}

// Open returns the stored content of a document.
func (s Store) Open(key string) (io.ReadCloser, error) {
	if s.Root == "" {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.Root, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s Store) AttachTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	tags, err := json.Marshal(d.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO documents(id,case_id,name,content_type,storage_key,tags_json,active,created_by,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.CaseID, d.Name, nullable(d.ContentType), d.StorageKey, string(tags), 1, d.CreatedBy, d.CreatedAt)
	return err
}

// ArchiveTx marks a document inactive. Archived documents no longer count
// towards validation.
func (s Store) ArchiveTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	res, err := tx.ExecContext(ctx, `UPDATE documents SET active=0 WHERE id=?`, id)
	if err != nil {
		return domain.Document{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Document{}, ErrNotFound
	}
	return scanDocument(tx.QueryRowContext(ctx, `SELECT `+columns+` FROM documents WHERE id=?`, id))
}

func (s Store) GetTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	return scanDocument(tx.QueryRowContext(ctx, `SELECT `+columns+` FROM documents WHERE id=?`, id))
}

func (s Store) List(ctx context.Context, caseID string) ([]domain.Document, error) {
	return collect(s.DB.QueryContext(ctx, `SELECT `+columns+` FROM documents WHERE case_id=? ORDER BY created_at, id`, caseID))
}

func (s Store) ListTx(ctx context.Context, tx *sql.Tx, caseID string) ([]domain.Document, error) {
	return collect(tx.QueryContext(ctx, `SELECT `+columns+` FROM documents WHERE case_id=? ORDER BY created_at, id`, caseID))
}

const columns = `id,case_id,name,COALESCE(content_type,''),storage_key,COALESCE(tags_json,'[]'),active,created_by,created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (domain.Document, error) {
	var (
		d      domain.Document
		tags   string
		active int
	)
	err := row.Scan(&d.ID, &d.CaseID, &d.Name, &d.ContentType, &d.StorageKey, &tags, &active, &d.CreatedBy, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Active = active == 1
	if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
		return d, fmt.Errorf("document %s tags: %w", d.ID, err)
	}
	return d, nil
}

func collect(rows *sql.Rows, err error) ([]domain.Document, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func sanitize(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." {
		return "document"
	}
	return name
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
