package kv

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Bucket é uma família de registros tipados sob um prefixo, com TTL próprio.
// A chave de índice lista os ids vivos da família.
type Bucket[T any] struct {
	db     *DB
	prefix string
	ttl    time.Duration

	mu sync.Mutex // serializa leitura+escrita do índice
}

func NewBucket[T any](db *DB, prefix string, ttl time.Duration) *Bucket[T] {
	return &Bucket[T]{db: db, prefix: prefix, ttl: ttl}
}

func (b *Bucket[T]) key(id string) []byte { return []byte(b.prefix + ":" + id) }
func (b *Bucket[T]) indexKey() []byte     { return []byte(b.prefix + ":__index") }

// TTL devolve a validade dos registros da família
func (b *Bucket[T]) TTL() time.Duration { return b.ttl }

// Get devolve o registro se existir, estiver na versão atual e não tiver expirado
func (b *Bucket[T]) Get(id string) (T, bool, error) {
	var zero T
	raw, ok, err := b.db.get(b.key(id))
	if err != nil || !ok {
		return zero, false, err
	}
	env, v, err := b.decode(raw)
	if err != nil {
		return zero, false, err
	}
	if env.V != b.db.version || env.Expired(b.db.now()) {
		return zero, false, nil
	}
	return v, true, nil
}

func (b *Bucket[T]) decode(raw []byte) (Envelope, T, error) {
	var (
		env Envelope
		v   T
	)
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, v, fmt.Errorf("decode envelope: %w", err)
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return env, v, fmt.Errorf("decode %s record: %w", b.prefix, err)
	}
	return env, v, nil
}

// Set grava o registro com expires_at = agora + TTL e mantém o índice
func (b *Bucket[T]) Set(id string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	env := Envelope{V: b.db.version, Data: data}
	if b.ttl > 0 {
		env.ExpiresAt = b.db.now().Add(b.ttl).UTC()
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ids, err := b.ids()
	if err != nil {
		return err
	}
	ops := []op{{key: b.key(id), val: raw, ttl: b.ttl}}
	if i := sort.SearchStrings(ids, id); i == len(ids) || ids[i] != id {
		ids = append(ids, "")
		copy(ids[i+1:], ids[i:])
		ids[i] = id
		idx, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		ops = append(ops, op{key: b.indexKey(), val: idx})
	}
	return b.db.apply(ops...)
}

// Delete remove os registros e tira os ids do índice
func (b *Bucket[T]) Delete(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, err := b.ids()
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(ids))
	ops := make([]op, 0, len(ids)+1)
	for _, id := range ids {
		drop[id] = true
		ops = append(ops, op{key: b.key(id), del: true})
	}
	kept := cur[:0:0]
	for _, id := range cur {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	idx, err := json.Marshal(kept)
	if err != nil {
		return err
	}
	ops = append(ops, op{key: b.indexKey(), val: idx})
	return b.db.apply(ops...)
}

// Keys devolve os ids listados no índice, em ordem
func (b *Bucket[T]) Keys() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ids()
}

func (b *Bucket[T]) ids() ([]string, error) {
	raw, ok, err := b.db.get(b.indexKey())
	if err != nil || !ok {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode %s index: %w", b.prefix, err)
	}
	return ids, nil
}

// Item é um registro lido com seu envelope
type Item[T any] struct {
	ID        string
	Value     T
	ExpiresAt time.Time
	Expired   bool
}

// Scan lê todos os registros do índice, inclusive os expirados ainda presentes.
// Ids do índice sem registro (TTL do badger) vêm como expirados e sem valor.
func (b *Bucket[T]) Scan() ([]Item[T], error) {
	ids, err := b.Keys()
	if err != nil {
		return nil, err
	}
	now := b.db.now()
	out := make([]Item[T], 0, len(ids))
	for _, id := range ids {
		raw, ok, err := b.db.get(b.key(id))
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, Item[T]{ID: id, Expired: true})
			continue
		}
		env, v, err := b.decode(raw)
		if err != nil {
			out = append(out, Item[T]{ID: id, Expired: true})
			continue
		}
		out = append(out, Item[T]{
			ID:        id,
			Value:     v,
			ExpiresAt: env.ExpiresAt,
			Expired:   env.V != b.db.version || env.Expired(now),
		})
	}
	return out, nil
}

// Evict apaga os registros para os quais drop devolve true
func (b *Bucket[T]) Evict(drop func(Item[T]) bool) (int, error) {
	items, err := b.Scan()
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, it := range items {
		if drop(it) {
			ids = append(ids, it.ID)
		}
	}
	if err := b.Delete(ids...); err != nil {
		return 0, err
	}
	return len(ids), nil
}
