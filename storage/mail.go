package storage

import (
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"time"

	"postbox/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// ErrNoChange can be returned from an UpdateMail callback to end the
// transaction without writing
var ErrNoChange = errors.New("no change")

// MailStorage persists mails together with a url -> mail index
type MailStorage struct {
	db *bbolt.DB
}

// NewMailStorage creates a mail store on an opened database
func NewMailStorage(db *bbolt.DB) *MailStorage {
	return &MailStorage{db: db}
}

// CreateMail stores a new mail, assigning an id and timestamps
func (s *MailStorage) CreateMail(mail *models.Mail) error {
	if mail.ID == "" {
		mail.ID = uuid.New().String()
	}
	now := time.Now()
	mail.CreatedAt = now
	mail.UpdatedAt = now

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := putMail(tx, mail); err != nil {
			return err
		}
		return indexURLs(tx, mail.ID, nil, mail.URLs)
	})
}

// GetMail retrieves a mail by id
func (s *MailStorage) GetMail(id string) (*models.Mail, error) {
	var mail *models.Mail
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		mail, err = getMail(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mail, nil
}

// UpdateMail applies fn to the stored mail inside one write transaction and
// returns the result. The url index follows any change fn makes to URLs.
func (s *MailStorage) UpdateMail(id string, fn func(*models.Mail) error) (*models.Mail, error) {
	var mail *models.Mail
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		mail, err = getMail(tx, id)
		if err != nil {
			return err
		}
		oldURLs := slices.Clone(mail.URLs)

		if err := fn(mail); err != nil {
			return err
		}
		mail.UpdatedAt = time.Now()

		if err := putMail(tx, mail); err != nil {
			return err
		}
		return indexURLs(tx, mail.ID, oldURLs, mail.URLs)
	})
	if errors.Is(err, ErrNoChange) {
		return mail, nil
	}
	if err != nil {
		return nil, err
	}
	return mail, nil
}

// AddLabels adds refs to the mail's label set and reports whether it changed
func (s *MailStorage) AddLabels(id string, refs ...models.LabelRef) (bool, error) {
	changed := false
	_, err := s.UpdateMail(id, func(m *models.Mail) error {
		for _, r := range refs {
			if m.AddLabel(r) {
				changed = true
			}
		}
		if !changed {
			return ErrNoChange
		}
		return nil
	})
	return changed, err
}

// RemoveLabels drops labelIDs from the mail's label set and reports whether
// it changed
func (s *MailStorage) RemoveLabels(id string, labelIDs ...string) (bool, error) {
	changed := false
	_, err := s.UpdateMail(id, func(m *models.Mail) error {
		for _, l := range labelIDs {
			if m.RemoveLabel(l) {
				changed = true
			}
		}
		if !changed {
			return ErrNoChange
		}
		return nil
	})
	return changed, err
}

// DeleteMail removes a mail and its index entries
func (s *MailStorage) DeleteMail(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		mail, err := getMail(tx, id)
		if err != nil {
			return err
		}
		if err := indexURLs(tx, id, mail.URLs, nil); err != nil {
			return err
		}
		return tx.Bucket([]byte(mailBucket)).Delete([]byte(id))
	})
}

// FindMails returns every mail match accepts, newest first
func (s *MailStorage) FindMails(match func(*models.Mail) bool) ([]*models.Mail, error) {
	var mails []*models.Mail
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(mailBucket)).ForEach(func(k, v []byte) error {
			var m models.Mail
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if match == nil || match(&m) {
				mails = append(mails, &m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(mails)
	return mails, nil
}

// FindMailsByURLs returns the mails that contain at least one of urls
func (s *MailStorage) FindMailsByURLs(urls []string) ([]*models.Mail, error) {
	var mails []*models.Mail
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(mailURLBucket)).Cursor()
		seen := make(map[string]bool)

		for _, u := range urls {
			prefix := compositeKey(u, "")
			for k, _ := c.Seek(prefix); k != nil && bytesHasPrefix(k, prefix); k, _ = c.Next() {
				id := string(k[len(prefix):])
				if seen[id] {
					continue
				}
				seen[id] = true

				m, err := getMail(tx, id)
				if errors.Is(err, ErrMailNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				mails = append(mails, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(mails)
	return mails, nil
}

// RemoveLabelEverywhere drops labelID from every mail that carries it and
// returns how many mails changed
func (s *MailStorage) RemoveLabelEverywhere(labelID string) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(mailBucket))
		var changed []*models.Mail
		err := b.ForEach(func(k, v []byte) error {
			var m models.Mail
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.RemoveLabel(labelID) {
				changed = append(changed, &m)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// bbolt forbids writes while iterating with ForEach
		for _, m := range changed {
			m.UpdatedAt = time.Now()
			if err := putMail(tx, m); err != nil {
				return err
			}
		}
		count = len(changed)
		return nil
	})
	return count, err
}

func getMail(tx *bbolt.Tx, id string) (*models.Mail, error) {
	data := tx.Bucket([]byte(mailBucket)).Get([]byte(id))
	if data == nil {
		return nil, ErrMailNotFound
	}
	var m models.Mail
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func putMail(tx *bbolt.Tx, mail *models.Mail) error {
	data, err := json.Marshal(mail)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(mailBucket)).Put([]byte(mail.ID), data)
}

// indexURLs moves the index entries of mailID from oldURLs to newURLs
func indexURLs(tx *bbolt.Tx, mailID string, oldURLs, newURLs []string) error {
	b := tx.Bucket([]byte(mailURLBucket))
	for _, u := range oldURLs {
		if !slices.Contains(newURLs, u) {
			if err := b.Delete(compositeKey(u, mailID)); err != nil {
				return err
			}
		}
	}
	for _, u := range newURLs {
		if err := b.Put(compositeKey(u, mailID), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

func sortNewestFirst(mails []*models.Mail) {
	sort.SliceStable(mails, func(i, j int) bool {
		return mails[i].CreatedAt.After(mails[j].CreatedAt)
	})
}
