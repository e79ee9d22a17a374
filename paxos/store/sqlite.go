package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite persists acceptor state in a sqlite database. Several acceptors may
// share one database file: rows are keyed by (acceptor, slot).
type SQLite struct {
	db       *sql.DB
	acceptor string
}

// OpenSQLite opens (and initializes if needed) the database at path for the
// given acceptor id.
func OpenSQLite(path, acceptorID string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening sqlite db %s: %w", path, err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS acceptor_state (
		acceptor       TEXT    NOT NULL,
		slot           INTEGER NOT NULL,
		promised_round INTEGER NOT NULL,
		promised_uid   TEXT    NOT NULL,
		accepted_round INTEGER NOT NULL,
		accepted_uid   TEXT    NOT NULL,
		accepted_v     TEXT    NOT NULL,
		PRIMARY KEY (acceptor, slot)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initializing sqlite db %s: %w", path, err)
	}

	return &SQLite{db: db, acceptor: acceptorID}, nil
}

func (s *SQLite) Load(slot uint64) (State, bool, error) {
	row := s.db.QueryRow(
		`SELECT promised_round, promised_uid, accepted_round, accepted_uid, accepted_v
		 FROM acceptor_state WHERE acceptor = ? AND slot = ?`,
		s.acceptor, int64(slot))

	var st State
	err := row.Scan(
		&st.PromisedID.Round, &st.PromisedID.UID,
		&st.Accepted.ID.Round, &st.Accepted.ID.UID, &st.Accepted.V)
	if err == sql.ErrNoRows {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("store: loading slot %d: %w", slot, err)
	}
	return st, true, nil
}

func (s *SQLite) Save(slot uint64, st State) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO acceptor_state
		 (acceptor, slot, promised_round, promised_uid, accepted_round, accepted_uid, accepted_v)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.acceptor, int64(slot),
		st.PromisedID.Round, st.PromisedID.UID,
		st.Accepted.ID.Round, st.Accepted.ID.UID, st.Accepted.V)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
