// Copyright 2023 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package pkgcache persists package-information lookups across inference
runs. Each adapter owns its own partition (a bolt bucket), keyed by
normalized package name. Entries carry the serialized definition, the
upstream ETag when the source supplies one, and the update time used
for TTL-based staleness.
*/
package pkgcache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Entry is one cached package definition.
type Entry struct {
	Definition json.RawMessage `json:"definition"`
	ETag       string          `json:"etag,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Store is a process-wide cache over a single bolt database file.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening package cache %s: %w", path, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SetClock replaces the store's time source. Tests use it to age
// entries past their TTL.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Partition returns the adapter-scoped view with the given TTL. The
// bucket is created lazily on first write.
func (s *Store) Partition(name string, ttl time.Duration) *Partition {
	return &Partition{store: s, bucket: []byte(name), ttl: ttl}
}

// Partition is one adapter's logical database within the store.
type Partition struct {
	store  *Store
	bucket []byte
	ttl    time.Duration
}

// Get returns the entry stored under the normalized name, and whether
// it is still fresh under the partition's TTL. A missing entry returns
// (nil, false, nil).
func (p *Partition) Get(name string) (*Entry, bool, error) {
	var e *Entry
	err := p.store.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(p.bucket)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(name))
		if raw == nil {
			return nil
		}
		e = new(Entry)
		if err := json.Unmarshal(raw, e); err != nil {
			// A corrupt entry behaves like a miss.
			e = nil
		}
		return nil
	})
	if err != nil || e == nil {
		return nil, false, err
	}
	fresh := p.store.now().Sub(e.UpdatedAt) < p.ttl
	return e, fresh, nil
}

// Put stores a definition under the normalized name, stamping it with
// the current time.
func (p *Partition) Put(name string, definition json.RawMessage, etag string) error {
	e := Entry{Definition: definition, ETag: etag, UpdatedAt: p.store.now()}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.store.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(p.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), raw)
	})
}

// Touch refreshes the entry's update time without changing its
// definition, as after a 304 revalidation.
func (p *Partition) Touch(name string) error {
	return p.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(p.bucket)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(name))
		if raw == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil
		}
		e.UpdatedAt = p.store.now()
		out, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), out)
	})
}
