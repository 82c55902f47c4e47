// Package storage persists orders, trades, and oracle bands in pebble,
// and keeps the append-only provenance journal for band updates.
package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/nairex/nairex/pkg/book"
	"github.com/nairex/nairex/pkg/clob"
	"github.com/nairex/nairex/pkg/oracle"
)

type Store struct {
	db *pebble.DB
}

func NewStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// keys: o:<8-byte-id>, t:<20-byte-asset><8-byte-seq>, tc:<20-byte-asset>,
// pb:<20-byte-asset>
func kOrder(id uint64) []byte { return append([]byte("o:"), u64Key(id)...) }
func kTrade(asset common.Address, seq uint64) []byte {
	k := append([]byte("t:"), asset[:]...)
	return append(k, u64Key(seq)...)
}
func kTradeCount(asset common.Address) []byte { return append([]byte("tc:"), asset[:]...) }
func kBand(asset common.Address) []byte      { return append([]byte("pb:"), asset[:]...) }

func (s *Store) SaveOrder(o book.Order) error {
	val, err := encodeGob(o)
	if err != nil {
		return fmt.Errorf("encode order %d: %w", o.ID, err)
	}
	return s.db.Set(kOrder(o.ID), val, pebble.Sync)
}

// AllOrders returns every persisted order, ascending by id. Ids are
// big-endian key suffixes, so pebble's key order is id order.
func (s *Store) AllOrders() ([]book.Order, error) {
	prefix := []byte("o:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	defer iter.Close()

	var out []book.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o book.Order
		if err := decodeGob(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("decode order at %x: %w", iter.Key(), err)
		}
		out = append(out, o)
	}
	return out, iter.Error()
}

// Bands returns the latest persisted band for every asset.
func (s *Store) Bands() (map[common.Address]oracle.Band, error) {
	prefix := []byte("pb:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("scan bands: %w", err)
	}
	defer iter.Close()

	out := make(map[common.Address]oracle.Band)
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(prefix)+common.AddressLength {
			return nil, fmt.Errorf("corrupt band key %x", key)
		}
		var b oracle.Band
		if err := decodeGob(iter.Value(), &b); err != nil {
			return nil, fmt.Errorf("decode band at %x: %w", key, err)
		}
		out[common.BytesToAddress(key[len(prefix):])] = b
	}
	return out, iter.Error()
}

func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func (s *Store) LoadOrder(id uint64) (book.Order, bool, error) {
	val, closer, err := s.db.Get(kOrder(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return book.Order{}, false, nil
		}
		return book.Order{}, false, err
	}
	defer closer.Close()
	var o book.Order
	if err := decodeGob(val, &o); err != nil {
		return book.Order{}, false, err
	}
	return o, true, nil
}

// SaveTrade appends a trade under the asset's monotonically increasing
// trade sequence.
func (s *Store) SaveTrade(t clob.Trade) error {
	seq, err := s.tradeCount(t.Asset)
	if err != nil {
		return err
	}
	val, err := encodeGob(t)
	if err != nil {
		return fmt.Errorf("encode trade: %w", err)
	}
	b := s.db.NewBatch()
	if err := b.Set(kTrade(t.Asset, seq), val, nil); err != nil {
		return err
	}
	if err := b.Set(kTradeCount(t.Asset), u64Key(seq+1), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) tradeCount(asset common.Address) (uint64, error) {
	val, closer, err := s.db.Get(kTradeCount(asset))
	if err != nil {
		if err == pebble.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt trade count for %s", asset.Hex())
	}
	return binary.BigEndian.Uint64(val), nil
}

// RecentTrades returns up to limit most recent trades for the asset,
// oldest first.
func (s *Store) RecentTrades(asset common.Address, limit int) ([]clob.Trade, error) {
	count, err := s.tradeCount(asset)
	if err != nil {
		return nil, err
	}
	if count == 0 || limit <= 0 {
		return nil, nil
	}
	start := uint64(0)
	if uint64(limit) < count {
		start = count - uint64(limit)
	}
	var out []clob.Trade
	for seq := start; seq < count; seq++ {
		val, closer, err := s.db.Get(kTrade(asset, seq))
		if err != nil {
			return nil, err
		}
		var t clob.Trade
		err = decodeGob(val, &t)
		closer.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) SaveBand(asset common.Address, b oracle.Band) error {
	val, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("encode band: %w", err)
	}
	return s.db.Set(kBand(asset), val, pebble.Sync)
}

func (s *Store) LoadBand(asset common.Address) (oracle.Band, bool, error) {
	val, closer, err := s.db.Get(kBand(asset))
	if err != nil {
		if err == pebble.ErrNotFound {
			return oracle.Band{}, false, nil
		}
		return oracle.Band{}, false, err
	}
	defer closer.Close()
	var b oracle.Band
	if err := decodeGob(val, &b); err != nil {
		return oracle.Band{}, false, err
	}
	return b, true, nil
}
