package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	mailBucket      = "mails"
	mailURLBucket   = "mail_urls"
	labelBucket     = "labels"
	labelNameBucket = "label_names"
	userBucket      = "users"
)

// Sentinel errors returned by the stores
var (
	ErrMailNotFound  = errors.New("mail not found")
	ErrLabelNotFound = errors.New("label not found")
	ErrLabelExists   = errors.New("label name already in use")
	ErrUserNotFound  = errors.New("user not found")
	ErrUserExists    = errors.New("username already taken")
	ErrBadPassword   = errors.New("invalid password")
)

// InitDB opens (creating if needed) the database under dataDir
func InitDB(dataDir string) (*bbolt.DB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(dataDir, "postbox.db")
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := []string{mailBucket, mailURLBucket, labelBucket, labelNameBucket, userBucket}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("create bucket %s: %s", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// compositeKey joins parts with a NUL separator so that prefix scans on the
// first part cannot match a longer value
func compositeKey(parts ...string) []byte {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	key := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			key = append(key, 0)
		}
		key = append(key, p...)
	}
	return key
}

// Helper for prefix check
func bytesHasPrefix(s, prefix []byte) bool {
	return len(s) >= len(prefix) && string(s[0:len(prefix)]) == string(prefix)
}
