package storage

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"postbox/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"
)

// UserStorage manages user accounts keyed by username
type UserStorage struct {
	db *bbolt.DB
}

// NewUserStorage creates a user store on an opened database
func NewUserStorage(db *bbolt.DB) *UserStorage {
	return &UserStorage{db: db}
}

// CreateUser creates a new user with a bcrypt hash of password
func (s *UserStorage) CreateUser(user *models.User, password string) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %v", err)
	}
	user.PasswordHash = string(hashedPassword)

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.DisplayName == "" {
		user.DisplayName = user.Username
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(userBucket))
		if b.Get([]byte(user.Username)) != nil {
			return ErrUserExists
		}
		return putUser(tx, user)
	})
}

// GetUserByUsername retrieves a user by username
func (s *UserStorage) GetUserByUsername(username string) (*models.User, error) {
	var user *models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = getUser(tx, username)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// VerifyPassword checks password for username and returns the user
func (s *UserStorage) VerifyPassword(username, password string) (*models.User, error) {
	user, err := s.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadPassword
	}
	return user, nil
}

// UpdateLastLogin updates the last login timestamp
func (s *UserStorage) UpdateLastLogin(username string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		user, err := getUser(tx, username)
		if err != nil {
			return err
		}
		user.LastLoginAt = time.Now()
		user.UpdatedAt = user.LastLoginAt
		return putUser(tx, user)
	})
}

// ListUsers retrieves all users ordered by username
func (s *UserStorage) ListUsers() ([]*models.User, error) {
	var users []*models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(userBucket)).ForEach(func(k, v []byte) error {
			var u models.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			users = append(users, &u)
			return nil
		})
	})
	return users, err
}

func getUser(tx *bbolt.Tx, username string) (*models.User, error) {
	data := tx.Bucket([]byte(userBucket)).Get([]byte(username))
	if data == nil {
		return nil, ErrUserNotFound
	}
	var u models.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %v", err)
	}
	return &u, nil
}

func putUser(tx *bbolt.Tx, user *models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %v", err)
	}
	return tx.Bucket([]byte(userBucket)).Put([]byte(user.Username), data)
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", bytes), nil
}
