package cache

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
)

// Bodies below this size are stored raw.
const compressThreshold = 1024

type record struct {
	Status     int                 `msgpack:"s"`
	Header     map[string][]string `msgpack:"h"`
	Body       []byte              `msgpack:"b"`
	Compressed bool                `msgpack:"z"`
	URL        string              `msgpack:"u"`
	StoredAt   int64               `msgpack:"t"`
	Digest     string              `msgpack:"d"`
}

type BoltStorage struct {
	db             *bolt.DB
	encoder        *zstd.Encoder
	decoder        *zstd.Decoder
	maxObjectBytes int64
}

func OpenBolt(path string, maxObjectBytes int64) (*BoltStorage, error) {
	if path == "" {
		return nil, errors.New("bolt storage path is empty")
	}
	if maxObjectBytes <= 0 {
		maxObjectBytes = DefaultMaxObjectBytes
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt storage: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = encoder.Close()
		_ = db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &BoltStorage{db: db, encoder: encoder, decoder: decoder, maxObjectBytes: maxObjectBytes}, nil
}

func (s *BoltStorage) Bucket(name string) Store {
	return &boltBucket{storage: s, name: []byte(name)}
}

func (s *BoltStorage) Open(name string) (Store, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	return s.Bucket(name), nil
}

func (s *BoltStorage) Has(name string) bool {
	found := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(name)) != nil
		return nil
	})
	return found
}

func (s *BoltStorage) Delete(name string) (bool, error) {
	deleted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(name))
		if errors.Is(err, bolterrors.ErrBucketNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete bucket %s: %w", name, err)
	}
	return deleted, nil
}

func (s *BoltStorage) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *BoltStorage) Close() error {
	if s == nil {
		return nil
	}
	_ = s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

func (s *BoltStorage) encode(entry Entry) ([]byte, error) {
	rec := record{
		Status:   entry.Status,
		Header:   entry.Header,
		Body:     entry.Body,
		URL:      entry.URL,
		StoredAt: entry.StoredAt.UnixNano(),
		Digest:   entry.Digest,
	}
	if len(entry.Body) >= compressThreshold {
		rec.Body = s.encoder.EncodeAll(entry.Body, nil)
		rec.Compressed = true
	}
	return msgpack.Marshal(&rec)
}

func (s *BoltStorage) decode(data []byte) (Entry, error) {
	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return Entry{}, err
	}
	body := rec.Body
	if rec.Compressed {
		decoded, err := s.decoder.DecodeAll(rec.Body, nil)
		if err != nil {
			return Entry{}, err
		}
		body = decoded
	}
	return Entry{
		Status:   rec.Status,
		Header:   http.Header(rec.Header),
		Body:     body,
		URL:      rec.URL,
		StoredAt: time.Unix(0, rec.StoredAt),
		Digest:   rec.Digest,
	}, nil
}

type boltBucket struct {
	storage *BoltStorage
	name    []byte
}

func (b *boltBucket) Get(key string) (Entry, bool) {
	var data []byte
	_ = b.storage.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.name)
		if bucket == nil {
			return nil
		}
		if value := bucket.Get([]byte(key)); value != nil {
			data = append([]byte(nil), value...)
		}
		return nil
	})
	if data == nil {
		return Entry{}, false
	}
	entry, err := b.storage.decode(data)
	if err != nil {
		log.Printf("cache: drop undecodable entry bucket=%s key=%s: %v", b.name, key, err)
		b.Delete(key)
		return Entry{}, false
	}
	return entry, true
}

func (b *boltBucket) Set(key string, entry Entry) error {
	prepared, err := prepare(entry, b.storage.maxObjectBytes)
	if err != nil {
		return err
	}
	data, err := b.storage.encode(prepared)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return b.storage.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(b.name)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), data)
	})
}

func (b *boltBucket) Delete(key string) bool {
	deleted := false
	_ = b.storage.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.name)
		if bucket == nil || bucket.Get([]byte(key)) == nil {
			return nil
		}
		deleted = true
		return bucket.Delete([]byte(key))
	})
	return deleted
}

func (b *boltBucket) Keys() []string {
	var keys []string
	_ = b.storage.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.name)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys
}

func (b *boltBucket) Len() int {
	n := 0
	_ = b.storage.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(b.name)
		if bucket == nil {
			return nil
		}
		n = bucket.Stats().KeyN
		return nil
	})
	return n
}
