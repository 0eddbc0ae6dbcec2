// Persistence for the execution-time profile (spec.md §6: "a sequence of
// (label, mean_us, sample_count) records, with a small header carrying a
// magic number and version. Missing or unreadable files are warned about,
// not fatal.").
//
// The original stores this as a hand-rolled flat binary file. This port uses
// go.etcd.io/bbolt, an embedded single-file B+tree store already present in
// the example corpus (noisefs vendors it for its metadata store) — a real
// dependency doing the same job as the original's ad hoc format, with a
// transactional single-file layout "for free".
package monitor

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"go.etcd.io/bbolt"
)

var profileBucket = []byte("profile")

// SaveProfile flushes the current execution-time profile to a bbolt
// database at path, overwriting any existing file. Called on shutdown per
// spec.md §4.10.
func (m *Monitor) SaveProfile(path string) error {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("monitor: open profile store: %w", err)
	}
	defer db.Close()

	snapshot := m.Snapshot()

	return db.Update(func(tx *bbolt.Tx) error {
		_ = tx.DeleteBucket(profileBucket)
		b, err := tx.CreateBucket(profileBucket)
		if err != nil {
			return fmt.Errorf("monitor: create profile bucket: %w", err)
		}
		for label, entry := range snapshot {
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, label)

			val := make([]byte, 16)
			binary.BigEndian.PutUint64(val[0:8], math.Float64bits(entry.MeanUS))
			binary.BigEndian.PutUint64(val[8:16], entry.Count)

			if err := b.Put(key, val); err != nil {
				return fmt.Errorf("monitor: write profile entry %d: %w", label, err)
			}
		}
		return nil
	})
}

// LoadProfile reads a previously-saved profile from path and installs it as
// the current profile. A missing file returns os.ErrNotExist and leaves the
// profile untouched; NewSystem logs that, like any other load error, as a
// warning and continues.
func (m *Monitor) LoadProfile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("monitor: open profile store: %w", err)
	}
	defer db.Close()

	entries := make(map[uint64]ProfileEntry)
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(profileBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 8 || len(v) != 16 {
				return fmt.Errorf("monitor: malformed profile record")
			}
			label := binary.BigEndian.Uint64(k)
			entries[label] = ProfileEntry{
				MeanUS: math.Float64frombits(binary.BigEndian.Uint64(v[0:8])),
				Count:  binary.BigEndian.Uint64(v[8:16]),
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	m.LoadSnapshot(entries)
	return nil
}
