package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shelfdb/shelfdb/pkg"
)

type Config struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Store is the write-through backing connection.
// The connection is opened lazily and reopened whenever a ping fails;
// errors are never retried, they propagate to the caller.
type Store struct {
	conf Config

	locker sync.Mutex
	db     *sql.DB
}

func NewStore(conf Config) *Store {
	return &Store{conf: conf}
}

func (s *Store) dsn(user, password string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", user, password, s.conf.Addr, s.conf.Database)
}

func (s *Store) conn() (*sql.DB, error) {
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.db != nil {
		if err := s.db.Ping(); err == nil {
			return s.db, nil
		}
		pkg.WarnLog("lost backing connection, reopening")
		s.db.Close()
		s.db = nil
	}
	db, err := sql.Open("mysql", s.dsn(s.conf.User, s.conf.Password))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

func (s *Store) Query(query string) (*sql.Rows, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	pkg.DebugLog("query:", query)
	return db.Query(query)
}

// Select runs a query and materializes every row as raw cells.
// NULL cells come back as nil slices.
func (s *Store) Select(query string) ([][][]byte, error) {
	rows, err := s.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	col_names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := [][][]byte{}
	for rows.Next() {
		raw := make([]sql.RawBytes, len(col_names))
		dest := make([]any, len(col_names))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		cells := make([][]byte, len(col_names))
		for i, cell := range raw {
			if cell != nil {
				cells[i] = append([]byte{}, cell...)
			}
		}
		res = append(res, cells)
	}
	return res, rows.Err()
}

// Exec runs a mutating statement. When want_key is set the generated
// auto-increment key of the statement is returned alongside the
// affected row count.
func (s *Store) Exec(query string, want_key bool) (int64, int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, 0, err
	}
	pkg.DebugLog("exec:", query)
	res, err := db.Exec(query)
	if err != nil {
		return 0, 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}
	key := int64(0)
	if want_key {
		if key, err = res.LastInsertId(); err != nil {
			return affected, 0, err
		}
	}
	return affected, key, nil
}

// Authenticate probes the backing database with the caller's own
// credentials over a throwaway connection.
func (s *Store) Authenticate(user, password string) bool {
	db, err := sql.Open("mysql", s.dsn(user, password))
	if err != nil {
		return false
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		pkg.DebugLog("auth probe failed for", user, ":", err)
		return false
	}
	return true
}

func (s *Store) Close() error {
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
