package store

import (
	"context"
	"encoding/json"
	"math/big"
	"sort"
	"time"

	"github.com/allegro/bigcache/v3"
	badger "github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"github.com/toychain/toychain/model"
	"go.uber.org/zap"
)

const blockPrefix = "block/"

// BlockStore persists accepted blocks in badger with a bigcache read-through
// in front of it, so a restarted node can rebuild its chain index without
// replaying the network.
type BlockStore struct {
	db    *badger.DB
	cache *bigcache.BigCache
	log   *zap.Logger
}

// blockRecord is the persisted form of a block. The mechanism is not stored;
// it is re-attached from configuration on load.
type blockRecord struct {
	Height     int64                `json:"height"`
	Txs        []*model.Transaction `json:"txs"`
	ParentHash string               `json:"parent_hash"`
	Timestamp  int64                `json:"timestamp"`
	Target     string               `json:"target"`
	IsGenesis  bool                 `json:"is_genesis"`
	Merkle     string               `json:"merkle"`
	SealData   string               `json:"seal_data"`
	Hash       string               `json:"hash"`
}

// Open opens (or creates) the block store under dir.
func Open(dir string, logger *zap.Logger) (*BlockStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrapf(err, "open block store at %s", dir)
	}
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(10*time.Minute))
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create block cache")
	}
	return &BlockStore{db: db, cache: cache, log: logger}, nil
}

// Close releases the underlying database.
func (s *BlockStore) Close() error {
	if err := s.cache.Close(); err != nil {
		s.log.Warn("closing block cache", zap.Error(err))
	}
	return s.db.Close()
}

// SaveBlock persists an accepted block.
func (s *BlockStore) SaveBlock(b *model.Block) error {
	data, err := json.Marshal(toRecord(b))
	if err != nil {
		return errors.Wrap(err, "encode block")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(blockPrefix+b.Hash), data)
	})
	if err != nil {
		return errors.Wrapf(err, "save block %s", b.Hash)
	}
	if err := s.cache.Set(b.Hash, data); err != nil {
		s.log.Warn("caching block", zap.String("hash", b.Hash), zap.Error(err))
	}
	return nil
}

// GetBlock loads a single block by hash, consulting the cache first. The
// mechanism is attached to the returned block. Returns nil when absent.
func (s *BlockStore) GetBlock(hash string, mech model.SealMechanism) (*model.Block, error) {
	if data, err := s.cache.Get(hash); err == nil {
		return decodeBlock(data, mech)
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(blockPrefix + hash))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load block %s", hash)
	}
	if err := s.cache.Set(hash, data); err != nil {
		s.log.Warn("caching block", zap.String("hash", hash), zap.Error(err))
	}
	return decodeBlock(data, mech)
}

// LoadChain replays every stored block into the chain index in height order,
// so parents always precede children.
func (s *BlockStore) LoadChain(chain *model.Chain, mech model.SealMechanism) error {
	var blocks []*model.Block
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(blockPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(data []byte) error {
				b, err := decodeBlock(data, mech)
				if err != nil {
					return err
				}
				blocks = append(blocks, b)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "scan block store")
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Height < blocks[j].Height })
	for _, b := range blocks {
		if err := chain.AddBlock(b); err != nil {
			return errors.Wrapf(err, "replay block %s", b.Hash)
		}
	}
	s.log.Info("chain restored from store", zap.Int("blocks", len(blocks)))
	return nil
}

func toRecord(b *model.Block) blockRecord {
	target := "0"
	if b.Target != nil {
		target = b.Target.String()
	}
	return blockRecord{
		Height:     b.Height,
		Txs:        b.Txs,
		ParentHash: b.ParentHash,
		Timestamp:  b.Timestamp,
		Target:     target,
		IsGenesis:  b.IsGenesis,
		Merkle:     b.Merkle,
		SealData:   b.SealData,
		Hash:       b.Hash,
	}
}

func decodeBlock(data []byte, mech model.SealMechanism) (*model.Block, error) {
	var rec blockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "decode block record")
	}
	target, ok := new(big.Int).SetString(rec.Target, 10)
	if !ok {
		return nil, errors.Errorf("bad target %q in stored block %s", rec.Target, rec.Hash)
	}
	return &model.Block{
		Height:     rec.Height,
		Txs:        rec.Txs,
		ParentHash: rec.ParentHash,
		Timestamp:  rec.Timestamp,
		Target:     target,
		IsGenesis:  rec.IsGenesis,
		Merkle:     rec.Merkle,
		SealData:   rec.SealData,
		Hash:       rec.Hash,
		Mechanism:  mech,
	}, nil
}
