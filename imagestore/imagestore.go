// Package imagestore keeps snapshots of backing memories in a bbolt database.
// Every allocated storage unit is stored zstd-compressed and the image carries
// a blake3 checksum of its content.
package imagestore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sarchlab/nocsim/memory"
	"github.com/zeebo/blake3"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned when no image has the requested name.
	ErrNotFound = errors.New("image not found")

	// ErrMismatch is returned when an image is loaded into a storage of a
	// different shape.
	ErrMismatch = errors.New("image does not match the storage")

	// ErrChecksum is returned when the content of an image is corrupted.
	ErrChecksum = errors.New("image checksum mismatch")
)

var (
	bucketImages = []byte("images")
	bucketUnits  = []byte("units")
	keyMeta      = []byte("meta")
)

// Meta describes a stored image.
type Meta struct {
	Name     string    `json:"name"`
	Base     uint64    `json:"base"`
	Capacity uint64    `json:"capacity"`
	UnitSize uint64    `json:"unit_size"`
	Units    int       `json:"units"`
	Checksum []byte    `json:"checksum"`
	SavedAt  time.Time `json:"saved_at"`
}

// Store is a database of memory images.
type Store struct {
	db      *bolt.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open creates or opens a store at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketImages)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	return &Store{db: db, encoder: encoder, decoder: decoder}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.decoder.Close()
	return s.db.Close()
}

// Save stores the allocated units of the storage under name, replacing any
// image with the same name.
func (s *Store) Save(name string, storage *memory.Storage) (Meta, error) {
	meta := Meta{
		Name:     name,
		Base:     storage.Base(),
		Capacity: storage.Capacity(),
		UnitSize: storage.UnitSize(),
		SavedAt:  time.Now(),
	}

	h := blake3.New()
	units := storage.Units()
	meta.Units = len(units)

	err := s.db.Update(func(tx *bolt.Tx) error {
		images := tx.Bucket(bucketImages)
		if images.Bucket([]byte(name)) != nil {
			if err := images.DeleteBucket([]byte(name)); err != nil {
				return err
			}
		}

		image, err := images.CreateBucket([]byte(name))
		if err != nil {
			return err
		}

		unitBucket, err := image.CreateBucket(bucketUnits)
		if err != nil {
			return err
		}

		for _, addr := range units {
			data := storage.MustRead(addr, unitLength(meta, addr))
			key := unitKey(addr)

			h.Write(key)
			h.Write(data)

			err := unitBucket.Put(key, s.encoder.EncodeAll(data, nil))
			if err != nil {
				return err
			}
		}

		meta.Checksum = h.Sum(nil)

		buf, err := json.Marshal(meta)
		if err != nil {
			return err
		}

		return image.Put(keyMeta, buf)
	})
	if err != nil {
		return Meta{}, fmt.Errorf("save image %s: %w", name, err)
	}

	return meta, nil
}

// Load writes the image with the given name into the storage. The storage
// must have the same base, capacity and unit size as the saved one.
func (s *Store) Load(name string, storage *memory.Storage) error {
	return s.db.View(func(tx *bolt.Tx) error {
		image := tx.Bucket(bucketImages).Bucket([]byte(name))
		if image == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}

		meta, err := decodeMeta(image)
		if err != nil {
			return err
		}

		if meta.Base != storage.Base() ||
			meta.Capacity != storage.Capacity() ||
			meta.UnitSize != storage.UnitSize() {
			return fmt.Errorf("%w: %s", ErrMismatch, name)
		}

		type unit struct {
			addr uint64
			data []byte
		}

		h := blake3.New()
		units := make([]unit, 0, meta.Units)

		c := image.Bucket(bucketUnits).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			data, err := s.decoder.DecodeAll(v, nil)
			if err != nil {
				return fmt.Errorf("decode unit of %s: %w", name, err)
			}

			h.Write(k)
			h.Write(data)

			units = append(units, unit{addr: binary.BigEndian.Uint64(k), data: data})
		}

		if string(h.Sum(nil)) != string(meta.Checksum) {
			return fmt.Errorf("%w: %s", ErrChecksum, name)
		}

		for _, u := range units {
			if uint64(len(u.data)) != unitLength(meta, u.addr) {
				return fmt.Errorf("%w: %s", ErrMismatch, name)
			}

			if err := storage.Write(u.addr, u.data); err != nil {
				return fmt.Errorf("%w: %s", ErrMismatch, name)
			}
		}

		return nil
	})
}

// Stat returns the metadata of an image.
func (s *Store) Stat(name string) (Meta, error) {
	var meta Meta

	err := s.db.View(func(tx *bolt.Tx) error {
		image := tx.Bucket(bucketImages).Bucket([]byte(name))
		if image == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}

		var err error
		meta, err = decodeMeta(image)

		return err
	})

	return meta, err
}

// List returns the names of all the images in ascending order.
func (s *Store) List() ([]string, error) {
	var names []string

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImages).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})

	sort.Strings(names)

	return names, err
}

// Delete removes an image.
func (s *Store) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketImages).DeleteBucket([]byte(name))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}

		return err
	})
}

func decodeMeta(image *bolt.Bucket) (Meta, error) {
	var meta Meta

	buf := image.Get(keyMeta)
	if buf == nil {
		return meta, errors.New("image has no metadata")
	}

	if err := json.Unmarshal(buf, &meta); err != nil {
		return meta, fmt.Errorf("decode metadata: %w", err)
	}

	return meta, nil
}

// unitLength is the number of bytes of the unit at addr that lie inside the
// storage. Only the last unit can be short.
func unitLength(meta Meta, addr uint64) uint64 {
	return min(meta.UnitSize, meta.Base+meta.Capacity-addr)
}

func unitKey(addr uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, addr)

	return key
}
