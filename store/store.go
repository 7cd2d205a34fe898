package store

import (
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
	"github.com/canopy-network/routing/section"
	"github.com/dgraph-io/badger/v4"
)

/*
	The store persists what a node must not lose across restarts: its section chain, the section state it derived from
	agreed events, and its secret key share. Dedup caches, votes and signature shares are volatile.
	The chain and the section snapshot are written in one badger transaction so they never disagree on disk.
*/

var (
	chainKey   = []byte("chain")   // the section chain
	sectionKey = []byte("section") // the section snapshot without its chain
	shareKey   = []byte("share")   // the secret share of the current section key
	groupKey   = []byte("group")   // the consensus group the section agrees in
)

// Store is a small key-value persistence layer over badger
type Store struct {
	db  *badger.DB
	log lib.LoggerI
}

// Open() opens the database in the data directory, or in memory if configured
func Open(config lib.StoreConfig, log lib.LoggerI) (*Store, lib.ErrorI) {
	opts := badger.DefaultOptions(filepath.Join(config.DataDirPath, config.DBName))
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	db, err := badger.Open(opts.WithLogger(badgerLogger{log}).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, ErrOpenDB(err)
	}
	return &Store{db: db, log: log}, nil
}

// SaveChain() persists the section chain
func (s *Store) SaveChain(c *chain.Chain) lib.ErrorI {
	bz, err := json.Marshal(c)
	if err != nil {
		return lib.ErrJSONMarshal(err)
	}
	return s.update(func(txn *badger.Txn) error { return txn.Set(chainKey, bz) })
}

// LoadChain() returns the persisted chain after re-validating its linkage, or nil if none was saved
func (s *Store) LoadChain() (*chain.Chain, lib.ErrorI) {
	bz, err := s.get(chainKey)
	if err != nil || bz == nil {
		return nil, err
	}
	c := new(chain.Chain)
	if e := json.Unmarshal(bz, c); e != nil {
		return nil, ErrCorruptKey(string(chainKey), e)
	}
	if e := c.CheckLinkage(); e != nil {
		return nil, e
	}
	return c, nil
}

// SaveSection() persists the section snapshot and its chain atomically
func (s *Store) SaveSection(snapshot *section.Snapshot) lib.ErrorI {
	chainBz, err := json.Marshal(snapshot.Chain)
	if err != nil {
		return lib.ErrJSONMarshal(err)
	}
	withoutChain := *snapshot
	withoutChain.Chain = nil
	sectionBz, err := json.Marshal(&withoutChain)
	if err != nil {
		return lib.ErrJSONMarshal(err)
	}
	return s.update(func(txn *badger.Txn) error {
		if e := txn.Set(chainKey, chainBz); e != nil {
			return e
		}
		return txn.Set(sectionKey, sectionBz)
	})
}

// LoadSection() returns the persisted snapshot with its chain, or nil if none was saved
func (s *Store) LoadSection() (*section.Snapshot, lib.ErrorI) {
	bz, err := s.get(sectionKey)
	if err != nil || bz == nil {
		return nil, err
	}
	snapshot := new(section.Snapshot)
	if e := json.Unmarshal(bz, snapshot); e != nil {
		return nil, ErrCorruptKey(string(sectionKey), e)
	}
	if snapshot.Chain, err = s.LoadChain(); err != nil {
		return nil, err
	}
	if snapshot.Chain == nil {
		return nil, chain.ErrEmptyChain()
	}
	return snapshot, nil
}

// SaveKeyShare() persists the secret key share; nil deletes it
func (s *Store) SaveKeyShare(share *crypto.SecretKeyShare) lib.ErrorI {
	if share == nil {
		return s.update(func(txn *badger.Txn) error { return txn.Delete(shareKey) })
	}
	bz, err := json.Marshal(share)
	if err != nil {
		return lib.ErrJSONMarshal(err)
	}
	return s.update(func(txn *badger.Txn) error { return txn.Set(shareKey, bz) })
}

// LoadKeyShare() returns the persisted key share, or nil if none was saved
func (s *Store) LoadKeyShare() (*crypto.SecretKeyShare, lib.ErrorI) {
	bz, err := s.get(shareKey)
	if err != nil || bz == nil {
		return nil, err
	}
	share := new(crypto.SecretKeyShare)
	if e := json.Unmarshal(bz, share); e != nil {
		return nil, ErrCorruptKey(string(shareKey), e)
	}
	return share, nil
}

// SaveGroup() persists the consensus group of the section
func (s *Store) SaveGroup(group string) lib.ErrorI {
	return s.update(func(txn *badger.Txn) error { return txn.Set(groupKey, []byte(group)) })
}

// LoadGroup() returns the persisted consensus group, or "" if none was saved
func (s *Store) LoadGroup() (string, lib.ErrorI) {
	bz, err := s.get(groupKey)
	return string(bz), err
}

// Close() closes the database
func (s *Store) Close() lib.ErrorI {
	if err := s.db.Close(); err != nil {
		return ErrCloseDB(err)
	}
	return nil
}

// update() runs a read-write transaction
func (s *Store) update(fn func(txn *badger.Txn) error) lib.ErrorI {
	if err := s.db.Update(fn); err != nil {
		return ErrStoreSet(err)
	}
	return nil
}

// get() returns a copy of the value of the key, or nil if the key is absent
func (s *Store) get(key []byte) (value []byte, err lib.ErrorI) {
	e := s.db.View(func(txn *badger.Txn) error {
		item, er := txn.Get(key)
		if er != nil {
			return er
		}
		value, er = item.ValueCopy(nil)
		return er
	})
	if errors.Is(e, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if e != nil {
		return nil, ErrStoreGet(e)
	}
	return value, nil
}

// badgerLogger routes badger's own logging into the node logger
type badgerLogger struct{ log lib.LoggerI }

func (b badgerLogger) Errorf(format string, args ...interface{})   { b.log.Errorf("badger: "+format, args...) }
func (b badgerLogger) Warningf(format string, args ...interface{}) { b.log.Warnf("badger: "+format, args...) }
func (b badgerLogger) Infof(format string, args ...interface{})    { b.log.Infof("badger: "+format, args...) }
func (b badgerLogger) Debugf(format string, args ...interface{})   { b.log.Debugf("badger: "+format, args...) }
