package rolecache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var bucketRoles = []byte("roles")

// Directory is a BoltDB-backed SourceOfTruth used in dev mode and
// tests, standing in for the external identity system
type Directory struct {
	db *bolt.DB
}

// NewDirectory opens the role directory under dataDir
func NewDirectory(dataDir string) (*Directory, error) {
	dbPath := filepath.Join(dataDir, "directory.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open role directory: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRoles)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create roles bucket: %w", err)
	}

	return &Directory{db: db}, nil
}

// Close closes the directory database
func (d *Directory) Close() error {
	return d.db.Close()
}

func (d *Directory) GetRole(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var role string
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRoles).Get([]byte(userID))
		if data == nil {
			return fmt.Errorf("role not found for user: %s", userID)
		}
		role = string(data)
		return nil
	})
	return role, err
}

func (d *Directory) SetRole(ctx context.Context, userID, role string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		if role == "" {
			return tx.Bucket(bucketRoles).Delete([]byte(userID))
		}
		return tx.Bucket(bucketRoles).Put([]byte(userID), []byte(role))
	})
}

// MemDirectory is an in-memory SourceOfTruth for tests
type MemDirectory struct {
	mu    sync.Mutex
	roles map[string]string
}

// NewMemDirectory creates an empty in-memory directory
func NewMemDirectory() *MemDirectory {
	return &MemDirectory{roles: make(map[string]string)}
}

func (d *MemDirectory) GetRole(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	role, ok := d.roles[userID]
	if !ok {
		return "", fmt.Errorf("role not found for user: %s", userID)
	}
	return role, nil
}

func (d *MemDirectory) SetRole(ctx context.Context, userID, role string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if role == "" {
		delete(d.roles, userID)
		return nil
	}
	d.roles[userID] = role
	return nil
}
