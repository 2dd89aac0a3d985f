// Package vector stores embeddings in a bbolt file partitioned into named
// collections, one bucket per collection. Queries scan the collection and
// rank by cosine similarity; collections here are small (knowledge metadata,
// not corpus chunks), so a linear scan is the whole index.
package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when a vector ID is absent.
var ErrNotFound = errors.New("not found")

// Hit is one query result. Score is cosine similarity in [-1, 1].
type Hit struct {
	ID    string
	Score float64
}

// Store is a bbolt-backed vector store. Safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the vector database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating vector store directory %s: %w", dir, err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening vector store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert stores vec under id in collection, creating the collection on
// first use.
func (s *Store) Upsert(collection, id string, vec []float32) error {
	if collection == "" || id == "" {
		return fmt.Errorf("collection and id are required")
	}
	if len(vec) == 0 {
		return fmt.Errorf("vector is empty")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", collection, err)
		}
		return b.Put([]byte(id), encodeVector(vec))
	})
}

// Query returns the topK entries of collection most similar to vec, highest
// score first. An unknown collection yields no hits. Entries whose dimension
// does not match vec (stale vectors from an earlier embedding model) are
// skipped. topK <= 0 returns every entry.
func (s *Store) Query(collection string, vec []float32, topK int) ([]Hit, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	var hits []Hit
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			stored, err := decodeVector(v)
			if err != nil {
				return fmt.Errorf("decoding vector %s/%s: %w", collection, k, err)
			}
			if len(stored) != len(vec) {
				return nil
			}
			hits = append(hits, Hit{ID: string(k), Score: Cosine(vec, stored)})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Delete removes id from collection.
func (s *Store) Delete(collection, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil || b.Get([]byte(id)) == nil {
			return fmt.Errorf("vector %s/%s: %w", collection, id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

// DeleteEverywhere removes id from every collection and reports how many
// copies were deleted.
func (s *Store) DeleteEverywhere(id string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			if b.Get([]byte(id)) == nil {
				return nil
			}
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
			deleted++
			return nil
		})
	})
	return deleted, err
}

// Collections lists existing collection names.
func (s *Store) Collections() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Count returns how many vectors collection holds.
func (s *Store) Count(collection string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Cosine computes cosine similarity between two equal-length vectors. A
// zero-magnitude vector scores 0 against everything.
func Cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// encodeVector packs a float32 slice little-endian.
func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// decodeVector unpacks a little-endian float32 slice.
func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector data length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, nil
}
