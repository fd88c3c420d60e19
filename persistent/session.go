package persistent

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSession persists the state a single-process Coordinator would
// otherwise only hold in memory -- every sub-ORAM's stash and position map,
// plus the coordinator's global eviction counter -- across separate CLI
// invocations of the `roram` command. There is no versioning or rollback: a
// CLI invocation either runs its one Access to completion and saves, or
// fails before saving anything, with no concurrent writer to race against.
type SQLiteSession struct {
	db *sql.DB
}

// NewSQLiteSession opens (creating if necessary) a session database at loc.
func NewSQLiteSession(loc string) (*SQLiteSession, error) {
	if dir := filepath.Dir(loc); dir != "." {
		if err := os.MkdirAll(dir, 0744); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
	}
	db, err := sql.Open("sqlite3", loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageIO, err)
	}

	stmts := []string{
		"CREATE TABLE IF NOT EXISTS counter (id INTEGER PRIMARY KEY CHECK (id = 0), cnt INTEGER NOT NULL)",
		"CREATE TABLE IF NOT EXISTS stash (suboram INTEGER NOT NULL, addr INTEGER NOT NULL, data BLOB NOT NULL, PRIMARY KEY (suboram, addr))",
		"CREATE TABLE IF NOT EXISTS position (suboram INTEGER NOT NULL, idx INTEGER NOT NULL, leaf INTEGER NOT NULL, PRIMARY KEY (suboram, idx))",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
	}
	return &SQLiteSession{db: db}, nil
}

// Close releases the session's database handle.
func (s *SQLiteSession) Close() error { return s.db.Close() }

// LoadCounter returns the last saved global eviction counter, or 0 if none
// has been saved yet (a fresh session).
func (s *SQLiteSession) LoadCounter() (uint64, error) {
	var cnt uint64
	err := s.db.QueryRow("SELECT cnt FROM counter WHERE id = 0").Scan(&cnt)
	if err == sql.ErrNoRows {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	return cnt, nil
}

// SaveCounter persists cnt as the session's global eviction counter.
func (s *SQLiteSession) SaveCounter(cnt uint64) error {
	_, err := s.db.Exec("INSERT INTO counter (id, cnt) VALUES (0, ?) ON CONFLICT(id) DO UPDATE SET cnt = excluded.cnt", cnt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	return nil
}

// LoadSubORAM populates sub's stash and position map from whatever this
// session last saved for sub-ORAM index sub.Index. A session with nothing
// saved yet for that index leaves sub untouched (it keeps the empty stash
// and zeroed position map NewSubORAM gave it).
func (s *SQLiteSession) LoadSubORAM(sub *SubORAM, p *Params) error {
	stashRows, err := s.db.Query("SELECT addr, data FROM stash WHERE suboram = ?", sub.Index)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	defer stashRows.Close()

	for stashRows.Next() {
		var (
			addr uint64
			data []byte
		)
		if err := stashRows.Scan(&addr, &data); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
		b, err := unmarshalBlock(bytes.NewReader(data), p)
		if err != nil {
			return err
		}
		sub.stash.Put(b)
	}
	if err := stashRows.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}

	posRows, err := s.db.Query("SELECT idx, leaf FROM position WHERE suboram = ?", sub.Index)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	defer posRows.Close()

	for posRows.Next() {
		var idx, leaf uint64
		if err := posRows.Scan(&idx, &leaf); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
		sub.posMap.setRaw(idx, leaf)
	}
	return posRows.Err()
}

// SaveSubORAM overwrites whatever this session previously saved for
// sub-ORAM index sub.Index with sub's current stash and position map.
func (s *SQLiteSession) SaveSubORAM(sub *SubORAM, p *Params) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}

	if err := s.saveSubORAMTx(tx, sub, p); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	return nil
}

func (s *SQLiteSession) saveSubORAMTx(tx *sql.Tx, sub *SubORAM, p *Params) error {
	if _, err := tx.Exec("DELETE FROM stash WHERE suboram = ?", sub.Index); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	if _, err := tx.Exec("DELETE FROM position WHERE suboram = ?", sub.Index); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}

	for _, b := range sub.stash {
		buf := new(bytes.Buffer)
		if err := marshalBlock(buf, b, p); err != nil {
			return err
		}
		if _, err := tx.Exec("INSERT INTO stash (suboram, addr, data) VALUES (?, ?, ?)", sub.Index, b.Addr, buf.Bytes()); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
	}

	var saveErr error
	sub.posMap.eachNonZero(func(idx, leaf uint64) {
		if saveErr != nil {
			return
		}
		if _, err := tx.Exec("INSERT INTO position (suboram, idx, leaf) VALUES (?, ?, ?)", sub.Index, idx, leaf); err != nil {
			saveErr = fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
	})
	return saveErr
}
