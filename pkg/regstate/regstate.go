// Package regstate persists ADC register snapshots in a bbolt database.
package regstate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/itohio/instamp/pkg/ad7124"
)

const bucketNamePrefix = "reg_"

var (
	// ErrNotFound is returned for a device or register that was never saved.
	ErrNotFound = errors.New("regstate: not found")
)

// Store keeps one bucket of registers per device.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open register store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func bucketName(device string) []byte {
	return []byte(bucketNamePrefix + device)
}

// Save replaces the stored registers of device.
func (s *Store) Save(device string, regs []ad7124.RegisterValue) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		name := bucketName(device)
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(name)
		if err != nil {
			return err
		}
		for _, r := range regs {
			if err := b.Put([]byte{r.Addr}, r.Value); err != nil {
				return fmt.Errorf("put register 0x%02x: %w", r.Addr, err)
			}
		}
		return nil
	})
}

// Get returns one stored register.
func (s *Store) Get(device string, addr byte) (ad7124.RegisterValue, error) {
	var reg ad7124.RegisterValue
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(device))
		if b == nil {
			return fmt.Errorf("%w: device %q", ErrNotFound, device)
		}
		v := b.Get([]byte{addr})
		if v == nil {
			return fmt.Errorf("%w: register 0x%02x", ErrNotFound, addr)
		}
		reg = ad7124.RegisterValue{Addr: addr, Value: append([]byte(nil), v...)}
		return nil
	})
	return reg, err
}

// Load returns every stored register of device in address order.
func (s *Store) Load(device string) ([]ad7124.RegisterValue, error) {
	var regs []ad7124.RegisterValue
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(device))
		if b == nil {
			return fmt.Errorf("%w: device %q", ErrNotFound, device)
		}
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 1 {
				return fmt.Errorf("bad register key %x", k)
			}
			regs = append(regs, ad7124.RegisterValue{Addr: k[0], Value: append([]byte(nil), v...)})
			return nil
		})
	})
	return regs, err
}

// Devices lists the devices with stored registers.
func (s *Store) Devices() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if dev, ok := strings.CutPrefix(string(name), bucketNamePrefix); ok && dev != "" {
				out = append(out, dev)
			}
			return nil
		})
	})
	return out, err
}

// Recorder returns a callback that saves an ADC state under device. Errors
// are passed to onErr.
func (s *Store) Recorder(device string, onErr func(error)) func(ad7124.State) {
	return func(st ad7124.State) {
		if err := s.Save(device, st.Registers()); err != nil && onErr != nil {
			onErr(err)
		}
	}
}
