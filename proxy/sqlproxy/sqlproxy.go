// Package sqlproxy stores records as JSON rows in the SQLite records table
// created by db.Migrate.
package sqlproxy

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/logger"
	"github.com/teranos/datagraph/proxy"
)

const (
	insertRecord = `INSERT INTO records (type, id, data) VALUES (?, ?, ?)`
	selectRecord = `SELECT data FROM records WHERE type = ? AND id = ?`
	updateRecord = `UPDATE records SET data = ?, updated_at = CURRENT_TIMESTAMP WHERE type = ? AND id = ?`
	deleteRecord = `DELETE FROM records WHERE type = ? AND id = ?`
	listRecords  = `SELECT data FROM records WHERE type = ? ORDER BY id`
	listTypes    = `SELECT type, COUNT(*) FROM records GROUP BY type ORDER BY type`
)

// Store is a proxy.Store backed by *sql.DB
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// New creates a store on a migrated database. A nil logger disables logging.
func New(db *sql.DB, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{db: db, log: log}
}

// Create inserts data under a fresh uuid, written into the id attribute.
func (s *Store) Create(ctx context.Context, key proxy.Key, data map[string]any) (map[string]any, error) {
	record := make(map[string]any, len(data)+1)
	for k, v := range data {
		record[k] = v
	}
	id := uuid.NewString()
	record[key.IDAttribute] = id

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s record", key.Type)
	}
	if _, err := s.db.ExecContext(ctx, insertRecord, key.Type, id, string(payload)); err != nil {
		return nil, errors.Wrapf(err, "failed to insert %s %s", key.Type, id)
	}
	s.log.Debugw("Record inserted", logger.FieldModelType, key.Type, logger.FieldModelID, id, logger.FieldSize, len(payload))
	return decode(payload)
}

func (s *Store) Read(ctx context.Context, key proxy.Key) (map[string]any, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, selectRecord, key.Type, key.ID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("%s %s not found", key.Type, key.ID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s %s", key.Type, key.ID)
	}
	return decode([]byte(payload))
}

// Update replaces the data of an existing row.
func (s *Store) Update(ctx context.Context, key proxy.Key, data map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s record", key.Type)
	}
	res, err := s.db.ExecContext(ctx, updateRecord, string(payload), key.Type, key.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update %s %s", key.Type, key.ID)
	}
	if err := requireRow(res, key); err != nil {
		return nil, err
	}
	return decode(payload)
}

func (s *Store) Delete(ctx context.Context, key proxy.Key) error {
	res, err := s.db.ExecContext(ctx, deleteRecord, key.Type, key.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to delete %s %s", key.Type, key.ID)
	}
	return requireRow(res, key)
}

// List returns the type's records ordered by id
func (s *Store) List(ctx context.Context, typ string) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, listRecords, typ)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", typ)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "failed to scan record")
		}
		record, err := decode([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate records")
}

// TypeCount is the number of stored records of one type
type TypeCount struct {
	Type  string
	Count int
}

// Types summarizes the stored records per type
func (s *Store) Types(ctx context.Context) ([]TypeCount, error) {
	rows, err := s.db.QueryContext(ctx, listTypes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list record types")
	}
	defer rows.Close()

	var out []TypeCount
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, errors.Wrap(err, "failed to scan record type")
		}
		out = append(out, tc)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate record types")
}

func requireRow(res sql.Result, key proxy.Key) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("%s %s not found", key.Type, key.ID)
	}
	return nil
}

func decode(payload []byte) (map[string]any, error) {
	var record map[string]any
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, errors.Wrap(err, "failed to decode record")
	}
	return record, nil
}
