package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/startuppulse/pulsesync/internal/client/storage"
	"github.com/startuppulse/pulsesync/internal/crypto"
)

var (
	// BoltDB bucket names
	bucketRecords     = []byte("records")
	bucketJournal     = []byte("journal")
	bucketJournalIdx  = []byte("journal_idx")
	bucketMetadata    = []byte("meta")
	bucketEntitlement = []byte("entitlement")
	bucketOutcomes    = []byte("outcomes")
	bucketConflicts   = []byte("conflicts")

	allBuckets = [][]byte{
		bucketRecords,
		bucketJournal,
		bucketJournalIdx,
		bucketMetadata,
		bucketEntitlement,
		bucketOutcomes,
		bucketConflicts,
	}
)

// maxOutcomes bounds the number of stored final write statuses
const maxOutcomes = 1000

// Storage represents BoltDB storage implementation for client.
// It implements storage.LocalStore, storage.Journal, storage.MetadataStorage
// and storage.EntitlementCache over one database file, so record and journal
// mutations can share a transaction.
type Storage struct {
	db       *bbolt.DB
	sealer   *crypto.Sealer
	notifier *storage.Broadcaster
	closed   atomic.Bool
}

type options struct {
	passphrase string
	timeout    time.Duration
}

// Option configures Storage
type Option func(*options)

// WithPassphrase enables at-rest encryption of stored values
func WithPassphrase(passphrase string) Option {
	return func(o *options) { o.passphrase = passphrase }
}

// WithOpenTimeout limits waiting for the database file lock
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string, opts ...Option) (*Storage, error) {
	o := options{timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	// Открываем BoltDB
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: o.timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db, notifier: storage.NewBroadcaster()}

	// Инициализируем buckets
	if err := s.initBuckets(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	if o.passphrase != "" {
		if err := s.initSealer(o.passphrase); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize encryption: %w", err)
		}
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.notifier.Close()
	return s.db.Close()
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// initSealer загружает (или создает) соль и выводит ключ шифрования
func (s *Storage) initSealer(passphrase string) error {
	var salt []byte
	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if existing := meta.Get(keySalt); existing != nil {
			salt = append([]byte(nil), existing...)
			return nil
		}
		generated, err := crypto.GenerateSalt()
		if err != nil {
			return err
		}
		salt = generated
		return meta.Put(keySalt, salt)
	})
	if err != nil {
		return err
	}

	key, err := crypto.DeriveStoreKey(passphrase, salt)
	if err != nil {
		return err
	}
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return err
	}
	s.sealer = sealer
	return nil
}

// Update runs fn in a read-write transaction. Change notifications
// are published only after the transaction commits.
func (s *Storage) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(btx *bbolt.Tx) error {
		t := &boltTx{s: s, tx: btx}
		if err := fn(t); err != nil {
			return err
		}
		if len(t.changes) > 0 {
			changes := t.changes
			btx.OnCommit(func() { s.notifier.Publish(changes...) })
		}
		return nil
	})
}

// View runs fn in a read-only transaction
func (s *Storage) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.View(func(btx *bbolt.Tx) error {
		return fn(&boltTx{s: s, tx: btx})
	})
}

// Subscribe returns committed change notifications
func (s *Storage) Subscribe(buffer int) (<-chan storage.Change, func()) {
	return s.notifier.Subscribe(buffer)
}

// boltTx implements storage.Tx over a bbolt transaction
type boltTx struct {
	s       *Storage
	tx      *bbolt.Tx
	changes []storage.Change
}

func (t *boltTx) emit(c storage.Change) {
	t.changes = append(t.changes, c)
}

// encode сериализует значение в JSON и шифрует его, если включено шифрование
func (s *Storage) encode(key []byte, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	sealed, err := s.sealer.Seal(data, key)
	if err != nil {
		return nil, fmt.Errorf("failed to seal value: %w", err)
	}
	return sealed, nil
}

// decode расшифровывает и десериализует значение
func (s *Storage) decode(key, raw []byte, v any) error {
	data, err := s.sealer.Open(raw, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return nil
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func keySeq(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
