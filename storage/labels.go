package storage

import (
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"postbox/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"golang.org/x/text/cases"
)

// LabelStorage manages per-user labels. A name index keyed by owner and
// case-folded name keeps names unique per owner.
type LabelStorage struct {
	db *bbolt.DB
}

// NewLabelStorage creates a label store on an opened database
func NewLabelStorage(db *bbolt.DB) *LabelStorage {
	return &LabelStorage{db: db}
}

// foldName returns the comparison form of a label name. A Caser keeps state
// so one is built per call.
func foldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

func nameKey(owner, name string) []byte {
	return compositeKey(owner, foldName(name))
}

// CreateLabel stores a new label. It fails with ErrLabelExists when the
// owner already has a label with the same name ignoring case.
func (s *LabelStorage) CreateLabel(label *models.Label) error {
	if label.ID == "" {
		label.ID = uuid.New().String()
	}
	if label.CreatedAt.IsZero() {
		label.CreatedAt = time.Now()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return createLabel(tx, label)
	})
}

// EnsureDefaultLabels creates any missing default label for owner and
// returns the full default set in display order. Safe to call repeatedly.
func (s *LabelStorage) EnsureDefaultLabels(owner string) ([]*models.Label, error) {
	var labels []*models.Label
	err := s.db.Update(func(tx *bbolt.Tx) error {
		labels = labels[:0]
		for _, name := range models.DefaultLabels {
			existing, err := labelByName(tx, owner, name)
			if err == nil {
				labels = append(labels, existing)
				continue
			}
			if !errors.Is(err, ErrLabelNotFound) {
				return err
			}

			l := models.NewDefaultLabel(uuid.New().String(), owner, name)
			if err := createLabel(tx, l); err != nil {
				return err
			}
			labels = append(labels, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// GetLabel retrieves a label by id
func (s *LabelStorage) GetLabel(id string) (*models.Label, error) {
	var label *models.Label
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		label, err = getLabel(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return label, nil
}

// FindLabelByName looks up owner's label called name, ignoring case
func (s *LabelStorage) FindLabelByName(owner, name string) (*models.Label, error) {
	var label *models.Label
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		label, err = labelByName(tx, owner, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return label, nil
}

// GetLabelsByUser returns owner's labels: defaults first in their fixed
// order, then custom labels by name
func (s *LabelStorage) GetLabelsByUser(owner string) ([]*models.Label, error) {
	var labels []*models.Label
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(labelNameBucket)).Cursor()
		prefix := compositeKey(owner, "")
		for k, v := c.Seek(prefix); k != nil && bytesHasPrefix(k, prefix); k, v = c.Next() {
			l, err := getLabel(tx, string(v))
			if err != nil {
				return err
			}
			labels = append(labels, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(labels, func(i, j int) bool {
		a, b := labels[i], labels[j]
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		if a.IsDefault {
			return slices.Index(models.DefaultLabels, a.Name) < slices.Index(models.DefaultLabels, b.Name)
		}
		return foldName(a.Name) < foldName(b.Name)
	})
	return labels, nil
}

// UpdateLabel applies fn to a stored label. A rename is checked against the
// owner's other labels.
func (s *LabelStorage) UpdateLabel(id string, fn func(*models.Label) error) (*models.Label, error) {
	var label *models.Label
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		label, err = getLabel(tx, id)
		if err != nil {
			return err
		}
		oldKey := nameKey(label.Owner, label.Name)

		if err := fn(label); err != nil {
			return err
		}

		newKey := nameKey(label.Owner, label.Name)
		names := tx.Bucket([]byte(labelNameBucket))
		if string(newKey) != string(oldKey) {
			if names.Get(newKey) != nil {
				return ErrLabelExists
			}
			if err := names.Delete(oldKey); err != nil {
				return err
			}
			if err := names.Put(newKey, []byte(label.ID)); err != nil {
				return err
			}
		}
		return putLabel(tx, label)
	})
	if err != nil {
		return nil, err
	}
	return label, nil
}

// DeleteLabel removes a label and its name index entry
func (s *LabelStorage) DeleteLabel(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		label, err := getLabel(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(labelNameBucket)).Delete(nameKey(label.Owner, label.Name)); err != nil {
			return err
		}
		return tx.Bucket([]byte(labelBucket)).Delete([]byte(id))
	})
}

func createLabel(tx *bbolt.Tx, label *models.Label) error {
	names := tx.Bucket([]byte(labelNameBucket))
	key := nameKey(label.Owner, label.Name)
	if names.Get(key) != nil {
		return ErrLabelExists
	}
	if err := names.Put(key, []byte(label.ID)); err != nil {
		return err
	}
	return putLabel(tx, label)
}

func labelByName(tx *bbolt.Tx, owner, name string) (*models.Label, error) {
	id := tx.Bucket([]byte(labelNameBucket)).Get(nameKey(owner, name))
	if id == nil {
		return nil, ErrLabelNotFound
	}
	return getLabel(tx, string(id))
}

func getLabel(tx *bbolt.Tx, id string) (*models.Label, error) {
	data := tx.Bucket([]byte(labelBucket)).Get([]byte(id))
	if data == nil {
		return nil, ErrLabelNotFound
	}
	var l models.Label
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func putLabel(tx *bbolt.Tx, label *models.Label) error {
	data, err := json.Marshal(label)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(labelBucket)).Put([]byte(label.ID), data)
}
