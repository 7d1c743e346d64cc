// Package db wires a HolyStore instance: the storage engine rooted at a
// directory together with its delivery and push collaborators.
package db

import (
	"fmt"
	"sync"
	"time"

	"github.com/garder500/holystore/pkg/delivery"
	"github.com/garder500/holystore/pkg/push"
	"github.com/garder500/holystore/pkg/storage"
)

// Option configures a Database before Open.
type Option func(*Database)

// WithStorageOptions forwards options to storage.Open.
func WithStorageOptions(opts ...storage.Option) Option {
	return func(db *Database) { db.storageOpts = append(db.storageOpts, opts...) }
}

// WithObserver subscribes o to engine events on Open.
func WithObserver(o storage.Observer) Option {
	return func(db *Database) { db.observers = append(db.observers, o) }
}

// WithDelivery sets the caching options of HTTP deliveries.
func WithDelivery(o delivery.Options) Option {
	return func(db *Database) { db.deliveryOpts = o }
}

// WithPushTimeout bounds each outbound push.
func WithPushTimeout(d time.Duration) Option {
	return func(db *Database) { db.pushTimeout = d }
}

// Database represents a HolyStore instance
type Database struct {
	name string
	path string

	storageOpts  []storage.Option
	observers    []storage.Observer
	deliveryOpts delivery.Options
	pushTimeout  time.Duration

	mu        sync.RWMutex
	store     *storage.LocalStorage
	deliverer *delivery.Deliverer
	pusher    *push.Pusher
}

// New creates a new database instance
func New(name, path string, opts ...Option) *Database {
	db := &Database{
		name:        name,
		path:        path,
		pushTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Name returns the database name
func (db *Database) Name() string {
	return db.name
}

// Path returns the database path
func (db *Database) Path() string {
	return db.path
}

// Open opens the storage at Path and builds its collaborators. Opening an
// already open database is a no-op.
func (db *Database) Open() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.store != nil {
		return nil
	}
	s, err := storage.Open(db.path, db.storageOpts...)
	if err != nil {
		return fmt.Errorf("open %s: %w", db.name, err)
	}
	for _, o := range db.observers {
		s.Subscribe(o)
	}
	db.store = s
	db.deliverer = delivery.New(s, db.deliveryOpts)
	db.pusher = push.New(s, nil, db.pushTimeout)
	return nil
}

// Close releases the database. Accessors return storage.ErrClosed afterwards.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.store = nil
	db.deliverer = nil
	db.pusher = nil
	return nil
}

// Storage returns the engine.
func (db *Database) Storage() (*storage.LocalStorage, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.store == nil {
		return nil, storage.ErrClosed
	}
	return db.store, nil
}

// Delivery returns the delivery layer bound to the engine.
func (db *Database) Delivery() (*delivery.Deliverer, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.deliverer == nil {
		return nil, storage.ErrClosed
	}
	return db.deliverer, nil
}

// Pusher returns the outbound push client bound to the engine.
func (db *Database) Pusher() (*push.Pusher, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.pusher == nil {
		return nil, storage.ErrClosed
	}
	return db.pusher, nil
}
