package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MSSQLStore persists every collection in a single documents table with the
// field map serialized as JSON. Field-equality queries go through
// JSON_VALUE, so queried fields must hold scalar values.
type MSSQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewMSSQLStore(connStr string, logger *zap.Logger) (*MSSQLStore, error) {
	db, err := sql.Open("mssql", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MSSQLStore{
		db:     db,
		logger: logger,
	}, nil
}

func (s *MSSQLStore) Close() error {
	return s.db.Close()
}

// InitializeTables creates the documents table if it doesn't exist
func (s *MSSQLStore) InitializeTables() error {
	_, err := s.db.Exec(`
		IF NOT EXISTS (SELECT 1 FROM sys.tables WHERE name = 'documents')
		CREATE TABLE documents (
			collection NVARCHAR(64) NOT NULL,
			id NVARCHAR(64) NOT NULL,
			fields NVARCHAR(MAX) NOT NULL,
			updated_at DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME(),
			PRIMARY KEY (collection, id)
		)
	`)
	if err != nil {
		s.logger.Error("failed to create documents table", zap.Error(err))
		return err
	}
	return nil
}

func (s *MSSQLStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, &StoreError{Op: "get", Collection: collection, Key: id, Err: ErrNotFound}
		}
		return nil, &StoreError{Op: "get", Collection: collection, Key: id, Err: err}
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, &StoreError{Op: "get", Collection: collection, Key: id, Err: err}
	}
	return &Document{ID: id, Fields: fields}, nil
}

func (s *MSSQLStore) Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error {
	if merge {
		existing, err := s.Get(ctx, collection, id)
		if err == nil {
			merged := make(map[string]interface{}, len(existing.Fields)+len(fields))
			for k, v := range existing.Fields {
				merged[k] = v
			}
			for k, v := range fields {
				merged[k] = v
			}
			fields = merged
		} else if !IsNotFound(err) {
			return err
		}
	}

	jsonData, err := json.Marshal(fields)
	if err != nil {
		return &StoreError{Op: "set", Collection: collection, Key: id, Err: err}
	}

	query := `
		IF EXISTS (SELECT 1 FROM documents WHERE collection = ? AND id = ?)
			UPDATE documents SET fields = ?, updated_at = SYSUTCDATETIME() WHERE collection = ? AND id = ?
		ELSE
			INSERT INTO documents (collection, id, fields) VALUES (?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		collection, id,
		string(jsonData), collection, id,
		collection, id, string(jsonData),
	)
	if err != nil {
		return &StoreError{Op: "set", Collection: collection, Key: id, Err: err}
	}
	return nil
}

func (s *MSSQLStore) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MSSQLStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)
	if err != nil {
		return &StoreError{Op: "delete", Collection: collection, Key: id, Err: err}
	}
	return nil
}

func (s *MSSQLStore) Query(ctx context.Context, collection, field string, equals interface{}) ([]Document, error) {
	query := `
		SELECT id, fields FROM documents
		WHERE collection = ? AND JSON_VALUE(fields, ?) = ?
	`
	rows, err := s.db.QueryContext(ctx, query, collection, "$."+field, fmt.Sprintf("%v", equals))
	if err != nil {
		return nil, &StoreError{Op: "query", Collection: collection, Err: err}
	}
	return scanDocuments(rows, "query", collection)
}

func (s *MSSQLStore) List(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields FROM documents WHERE collection = ?`,
		collection,
	)
	if err != nil {
		return nil, &StoreError{Op: "list", Collection: collection, Err: err}
	}
	return scanDocuments(rows, "list", collection)
}

func scanDocuments(rows *sql.Rows, op, collection string) ([]Document, error) {
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, &StoreError{Op: op, Collection: collection, Err: err}
		}
		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, &StoreError{Op: op, Collection: collection, Key: id, Err: err}
		}
		results = append(results, Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: op, Collection: collection, Err: err}
	}
	return results, nil
}
