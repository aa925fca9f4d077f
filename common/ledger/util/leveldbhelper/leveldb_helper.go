/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package leveldbhelper

import (
	"os"
	"sync"

	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	goleveldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

var logger = flogging.MustGetLogger("leveldbhelper")

// Conf configuration for `DB`
type Conf struct {
	DBPath string
}

// DB wraps a goleveldb instance and refuses every operation while it is
// closed.
type DB struct {
	conf  *Conf
	mutex sync.RWMutex
	db    *leveldb.DB // nil while closed
}

// CreateDB constructs a closed `DB`
func CreateDB(conf *Conf) *DB {
	return &DB{conf: conf}
}

func writeOptions(sync bool) *opt.WriteOptions {
	return &opt.WriteOptions{Sync: sync}
}

// Open creates the directory if needed and opens the db. Opening an open db
// is a no-op.
func (dbInst *DB) Open() error {
	dbInst.mutex.Lock()
	defer dbInst.mutex.Unlock()
	if dbInst.db != nil {
		return nil
	}
	dbPath := dbInst.conf.DBPath
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return errors.Wrapf(err, "error creating dir [%s]", dbPath)
	}
	db, err := leveldb.OpenFile(dbPath, &opt.Options{})
	if err != nil {
		return errors.Wrapf(err, "error opening leveldb at [%s]", dbPath)
	}
	dbInst.db = db
	return nil
}

// IsEmpty returns whether or not a database is empty
func (dbInst *DB) IsEmpty() (bool, error) {
	var empty bool
	err := dbInst.withOpen(func(db *leveldb.DB) error {
		itr := db.NewIterator(&goleveldbutil.Range{}, nil)
		defer itr.Release()
		empty = !itr.Next()
		return errors.Wrapf(itr.Error(), "error while trying to see if the leveldb at path [%s] is empty", dbInst.conf.DBPath)
	})
	return empty, err
}

// Close closes the underlying db
func (dbInst *DB) Close() {
	dbInst.mutex.Lock()
	defer dbInst.mutex.Unlock()
	if dbInst.db == nil {
		return
	}
	if err := dbInst.db.Close(); err != nil {
		logger.Errorf("Error closing leveldb: %s", err)
	}
	dbInst.db = nil
}

// withOpen runs fn under the read lock, failing if the db is closed.
func (dbInst *DB) withOpen(fn func(db *leveldb.DB) error) error {
	dbInst.mutex.RLock()
	defer dbInst.mutex.RUnlock()
	if dbInst.db == nil {
		return errors.Errorf("leveldb at [%s] is not open", dbInst.conf.DBPath)
	}
	return fn(dbInst.db)
}

// Get returns the value for the given key, or nil when it is absent.
func (dbInst *DB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := dbInst.withOpen(func(db *leveldb.DB) error {
		v, err := db.Get(key, nil)
		switch {
		case err == leveldb.ErrNotFound:
			return nil
		case err != nil:
			return errors.Wrapf(err, "error retrieving leveldb key [%#v]", key)
		}
		value = v
		return nil
	})
	return value, err
}

// Put saves the key/value
func (dbInst *DB) Put(key []byte, value []byte, sync bool) error {
	return dbInst.withOpen(func(db *leveldb.DB) error {
		return errors.Wrapf(db.Put(key, value, writeOptions(sync)), "error writing leveldb key [%#v]", key)
	})
}

// Delete deletes the given key
func (dbInst *DB) Delete(key []byte, sync bool) error {
	return dbInst.withOpen(func(db *leveldb.DB) error {
		return errors.Wrapf(db.Delete(key, writeOptions(sync)), "error deleting leveldb key [%#v]", key)
	})
}

// GetIterator returns an iterator over [startKey, endKey). A nil bound is
// open on that side. The caller must release the iterator.
func (dbInst *DB) GetIterator(startKey []byte, endKey []byte) (iterator.Iterator, error) {
	var itr iterator.Iterator
	err := dbInst.withOpen(func(db *leveldb.DB) error {
		itr = db.NewIterator(&goleveldbutil.Range{Start: startKey, Limit: endKey}, nil)
		return nil
	})
	return itr, err
}

// WriteBatch writes a batch atomically
func (dbInst *DB) WriteBatch(batch *leveldb.Batch, sync bool) error {
	return dbInst.withOpen(func(db *leveldb.DB) error {
		return errors.Wrap(db.Write(batch, writeOptions(sync)), "error writing batch to leveldb")
	})
}
