package zerkalo

import (
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"github.com/zerkalo-sync/zerkalo/utils"
)

// SnapStore caches the latest legacy-mode snapshot per room name, so a
// rejoining client can render known state before the first server
// patch arrives.
type SnapStore struct {
	db  *pebble.DB
	log utils.Logger
}

var snapWriteOptions = pebble.WriteOptions{Sync: false}

func OpenSnapStore(dir string, log utils.Logger) (*SnapStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "snap store open failed")
	}
	return &SnapStore{db: db, log: log}, nil
}

func snapKey(name string) (key []byte) {
	key = append(key, 'S')
	key = append(key, name...)
	return
}

func (s *SnapStore) Put(name string, doc []byte) error {
	return s.db.Set(snapKey(name), doc, &snapWriteOptions)
}

// Get returns nil with no error when the room has no cached snapshot.
func (s *SnapStore) Get(name string) ([]byte, error) {
	val, clo, err := s.db.Get(snapKey(name))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc := make([]byte, len(val))
	copy(doc, val)
	_ = clo.Close()
	return doc, nil
}

func (s *SnapStore) Delete(name string) error {
	return s.db.Delete(snapKey(name), &snapWriteOptions)
}

func (s *SnapStore) Close() error {
	return s.db.Close()
}
