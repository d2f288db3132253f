package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/jonboulle/clockwork"
)

const (
	ledgerFile = "jobs.db"
	jobsBucket = "jobs"

	// lockTimeout bounds the wait for another handle's transaction to release jobs.db.
	lockTimeout = 5 * time.Second
)

// JobRecord is the ledger entry for one batch file.
type JobRecord struct {
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	Rows      int       `json:"rows"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ledger is an audit log of batch file outcomes kept in the workspace. It never decides
// whether a file is complete; the output directory does.
//
// The bolt file is opened per transaction, so readers such as the status endpoint are
// never locked out for the length of a run.
type Ledger struct {
	path  string
	clock clockwork.Clock
	mu    sync.Mutex // serializes this handle's opens; the file lock covers other handles
}

// LedgerPath is the bolt database holding the job ledger.
func (w *Workspace) LedgerPath() string {
	return filepath.Join(w.Dir, ledgerFile)
}

// OpenLedger creates the workspace's job ledger if needed and returns a handle to it.
func (w *Workspace) OpenLedger(clock clockwork.Clock) (*Ledger, error) {
	l := &Ledger{path: w.LedgerPath(), clock: clock}
	if err := l.update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(jobsBucket))
		return err
	}); err != nil {
		return nil, fmt.Errorf("init job ledger: %w", err)
	}
	return l, nil
}

// LedgerReader returns a handle for reading an existing ledger without creating or
// writing anything.
func (w *Workspace) LedgerReader(clock clockwork.Clock) *Ledger {
	return &Ledger{path: w.LedgerPath(), clock: clock}
}

func (l *Ledger) update(fn func(*bolt.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	db, err := bolt.Open(l.path, 0o600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return fmt.Errorf("open job ledger: %w", err)
	}
	err = db.Update(fn)
	return errors.Join(err, db.Close())
}

func (l *Ledger) view(fn func(*bolt.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	db, err := bolt.Open(l.path, 0o600, &bolt.Options{Timeout: lockTimeout, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open job ledger: %w", err)
	}
	err = db.View(fn)
	return errors.Join(err, db.Close())
}

// Record stores rec for the named batch file, stamping UpdatedAt.
func (l *Ledger) Record(file string, rec JobRecord) error {
	rec.UpdatedAt = l.clock.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", file, err)
	}
	return l.update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(jobsBucket)).Put([]byte(file), data); err != nil {
			return fmt.Errorf("put job %s: %w", file, err)
		}
		return nil
	})
}

// Get returns the record for file and whether one exists.
func (l *Ledger) Get(file string) (JobRecord, bool, error) {
	var (
		rec JobRecord
		ok  bool
	)
	err := l.view(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(file))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return JobRecord{}, false, fmt.Errorf("get job %s: %w", file, err)
	}
	return rec, ok, nil
}

// All returns every recorded job keyed by file name.
func (l *Ledger) All() (map[string]JobRecord, error) {
	jobs := make(map[string]JobRecord)
	err := l.view(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(jobsBucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec JobRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode job %s: %w", k, err)
			}
			jobs[string(k)] = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
