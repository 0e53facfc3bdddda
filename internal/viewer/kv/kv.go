package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

var (
	ErrQuotaExceeded = errors.New("kv: storage quota exceeded")
	ErrClosed        = errors.New("kv: closed")
)

const metaVersionKey = "__meta:version"

// Options configura o armazenamento durável do cliente
type Options struct {
	Dir      string // vazio usa memória
	Budget   int64  // bytes de chave+valor; 0 desliga o limite
	Version  int    // versão do esquema dos envelopes
	Logger   *zap.Logger
	Now      func() time.Time
	InMemory bool
}

// DB é o KV orçado sobre badger. Toda escrita passa pela conta de bytes;
// estourar o orçamento devolve ErrQuotaExceeded sem gravar nada.
type DB struct {
	bdb     *badger.DB
	budget  int64
	version int
	now     func() time.Time
	log     *zap.Logger

	mu   sync.Mutex
	used int64
}

// Open abre o banco e invalida tudo se a versão gravada for outra
func Open(opts Options) (*DB, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Version <= 0 {
		opts.Version = 1
	}

	bo := badger.DefaultOptions(opts.Dir)
	if opts.InMemory || opts.Dir == "" {
		bo = badger.DefaultOptions("").WithInMemory(true)
	}
	bo.Logger = badgerLogger{opts.Logger.Sugar()}

	bdb, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	d := &DB{bdb: bdb, budget: opts.Budget, version: opts.Version, now: opts.Now, log: opts.Logger}

	if err := d.checkVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	if err := d.Recount(); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) checkVersion() error {
	var stored int
	err := d.bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaVersionKey))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			stored, err = strconv.Atoi(string(v))
			return err
		})
	})
	if err == nil && stored == d.version {
		return nil
	}
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		d.log.Warn("kv version unreadable, resetting", zap.Error(err))
	}
	if stored != 0 {
		d.log.Info("kv schema version changed, dropping cache", zap.Int("stored", stored), zap.Int("current", d.version))
	}
	if err := d.bdb.DropAll(); err != nil {
		return fmt.Errorf("drop kv: %w", err)
	}
	return d.bdb.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaVersionKey), []byte(strconv.Itoa(d.version)))
	})
}

// Recount refaz a conta de bytes a partir do que está gravado
func (d *DB) Recount() error {
	var used int64
	err := d.bdb.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if string(item.Key()) == metaVersionKey {
				continue
			}
			used += int64(len(item.Key())) + item.ValueSize()
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.used = used
	d.mu.Unlock()
	return nil
}

// Used devolve os bytes contabilizados
func (d *DB) Used() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

func (d *DB) Close() error { return d.bdb.Close() }

// Envelope é o formato gravado em cada chave
type Envelope struct {
	V         int             `json:"v"`
	ExpiresAt time.Time       `json:"expires_at"`
	Data      json.RawMessage `json:"data"`
}

func (e Envelope) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

type op struct {
	key []byte
	val []byte
	ttl time.Duration
	del bool
}

// apply grava as operações numa transação só, respeitando o orçamento
func (d *DB) apply(ops ...op) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var delta int64
	err := d.bdb.Update(func(txn *badger.Txn) error {
		for _, o := range ops {
			old, err := sizeOf(txn, o.key)
			if err != nil {
				return err
			}
			delta -= old
			if !o.del {
				delta += int64(len(o.key) + len(o.val))
			}
		}
		if d.budget > 0 && delta > 0 && d.used+delta > d.budget {
			return ErrQuotaExceeded
		}
		for _, o := range ops {
			if o.del {
				if err := txn.Delete(o.key); err != nil {
					return err
				}
				continue
			}
			e := badger.NewEntry(o.key, o.val)
			if o.ttl > 0 {
				e = e.WithTTL(o.ttl)
			}
			if err := txn.SetEntry(e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.used += delta
	if d.used < 0 {
		d.used = 0
	}
	return nil
}

func sizeOf(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int64(len(key)) + item.ValueSize(), nil
}

func (d *DB) get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := d.bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// badgerLogger leva o log interno do badger para o zap
type badgerLogger struct{ s *zap.SugaredLogger }

func (l badgerLogger) Errorf(f string, a ...any)   { l.s.Errorf(f, a...) }
func (l badgerLogger) Warningf(f string, a ...any) { l.s.Warnf(f, a...) }
func (l badgerLogger) Infof(f string, a ...any)    { l.s.Debugf(f, a...) }
func (l badgerLogger) Debugf(f string, a ...any)   { l.s.Debugf(f, a...) }
