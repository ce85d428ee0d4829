package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
)

const (
	blockKeyPrefix = "blocks/"
	pinKeyPrefix   = "pins/"
)

var errBlockNotFound = errors.New("block not found in repository")

// blockstore is the embedded node's local block repository. Every block is
// stored under its CID and verified against it on write.
type blockstore struct {
	db   *badger.DB
	path string
}

// openBlockstore opens a repository in a fresh namespace under root, or an
// in-memory repository when inMemory is set.
func openBlockstore(root string, inMemory bool) (*blockstore, error) {
	var opts badger.Options
	var path string
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if root == "" {
			root = os.TempDir()
		}
		path = filepath.Join(root, "nexus-repo-"+uuid.NewString())
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create repository directory: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}

	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open block repository: %w", err)
	}
	return &blockstore{db: db, path: path}, nil
}

func (bs *blockstore) get(c cid.Cid) ([]byte, error) {
	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(c))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errBlockNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

func (bs *blockstore) has(c cid.Cid) (bool, error) {
	_, err := bs.get(c)
	if errors.Is(err, errBlockNotFound) {
		return false, nil
	}
	return err == nil, err
}

// put stores a block after checking that data hashes to c.
func (bs *blockstore) put(c cid.Cid, data []byte) error {
	if err := verifyBlock(c, data); err != nil {
		return err
	}
	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(c), data)
	})
}

func (bs *blockstore) pin(c cid.Cid) error {
	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pinKey(c), []byte{1})
	})
}

func (bs *blockstore) unpin(c cid.Cid) error {
	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(pinKey(c))
	})
}

func (bs *blockstore) pinned(c cid.Cid) (bool, error) {
	err := bs.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(pinKey(c))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// close releases the database and removes an on-disk namespace.
func (bs *blockstore) close() error {
	err := bs.db.Close()
	if bs.path != "" {
		if rmErr := os.RemoveAll(bs.path); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

func blockKey(c cid.Cid) []byte {
	return []byte(blockKeyPrefix + c.String())
}

func pinKey(c cid.Cid) []byte {
	return []byte(pinKeyPrefix + c.String())
}

// verifyBlock recomputes the CID of data with the prefix of c.
func verifyBlock(c cid.Cid, data []byte) error {
	computed, err := c.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("failed to hash block: %w", err)
	}
	if !computed.Equals(c) {
		return fmt.Errorf("block does not match %s", c)
	}
	return nil
}
