// Package keyring provides a BoltDB-backed store for the persisted
// operator credential (session token and username).
package keyring

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var (
	credsBucket = []byte("credentials")
	credsKey    = []byte("operator")
)

// Credentials is the persisted session record. Token and Username are always
// saved and cleared together.
type Credentials struct {
	Token    string `msgpack:"token"`
	Username string `msgpack:"username"`
	SavedAt  int64  `msgpack:"saved_at"`
}

// Store wraps a bbolt database holding the single operator credential.
type Store struct {
	db  *bolt.DB
	log zerolog.Logger
}

// New opens or creates a BoltDB file at the given path.
func New(path string, log zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening keyring %s: %w", path, err)
	}

	// Ensure the credentials bucket exists
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating credentials bucket: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists the credential record, stamping SavedAt.
func (s *Store) Save(creds Credentials) error {
	creds.SavedAt = time.Now().Unix()

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := msgpack.Marshal(creds)
		if err != nil {
			return fmt.Errorf("marshaling credentials: %w", err)
		}

		s.log.Debug().Str("username", creds.Username).Msg("Credentials saved")
		return tx.Bucket(credsBucket).Put(credsKey, data)
	})
}

// Load returns the stored credential and whether one exists.
func (s *Store) Load() (Credentials, bool, error) {
	var creds Credentials
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(credsBucket).Get(credsKey)
		if data == nil {
			return nil
		}
		if err := msgpack.Unmarshal(data, &creds); err != nil {
			return fmt.Errorf("unmarshaling credentials: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return Credentials{}, false, err
	}
	return creds, found, nil
}

// Clear removes the stored credential. Clearing an empty keyring is a no-op.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credsBucket).Delete(credsKey)
	})
}
