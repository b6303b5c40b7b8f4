package services

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"postbox/models"
	"postbox/storage"
	"postbox/utils"

	"golang.org/x/sync/singleflight"
)

const maxLabelNameLength = 64

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// DefaultSet maps default label names to one user's labels
type DefaultSet map[string]*models.Label

// Ref returns the reference to the default label called name
func (d DefaultSet) Ref(name string) models.LabelRef {
	return d[name].Ref()
}

// ID returns the id of the default label called name
func (d DefaultSet) ID(name string) string {
	return d[name].ID
}

// LabelService implements label CRUD with the default-label protections
type LabelService struct {
	labels LabelStore
	mails  MailStore

	group    singleflight.Group
	defaults sync.Map // owner -> DefaultSet
	log      *utils.Logger
}

// NewLabelService creates a label service
func NewLabelService(labels LabelStore, mails MailStore) *LabelService {
	return &LabelService{
		labels: labels,
		mails:  mails,
		log:    utils.Log.WithField("component", "labels"),
	}
}

// Defaults returns owner's default labels, provisioning them on first use.
// Concurrent first calls for the same owner share one provisioning run.
func (s *LabelService) Defaults(owner string) (DefaultSet, error) {
	if set, ok := s.defaults.Load(owner); ok {
		return set.(DefaultSet), nil
	}

	v, err, _ := s.group.Do(owner, func() (interface{}, error) {
		labels, err := s.labels.EnsureDefaultLabels(owner)
		if err != nil {
			return nil, err
		}
		set := make(DefaultSet, len(labels))
		for _, l := range labels {
			set[l.Name] = l
		}
		s.defaults.Store(owner, set)
		return set, nil
	})
	if err != nil {
		return nil, storeError(err, "failed to provision default labels")
	}
	return v.(DefaultSet), nil
}

// ListLabels returns every label owner has
func (s *LabelService) ListLabels(owner string) ([]*models.Label, error) {
	if _, err := s.Defaults(owner); err != nil {
		return nil, err
	}
	labels, err := s.labels.GetLabelsByUser(owner)
	if err != nil {
		return nil, storeError(err, "failed to list labels")
	}
	return labels, nil
}

// AddLabel creates a custom label for owner
func (s *LabelService) AddLabel(owner, name, color string) (*models.Label, error) {
	name, err := cleanLabelName(name)
	if err != nil {
		return nil, err
	}
	color, err = cleanColor(color)
	if err != nil {
		return nil, err
	}

	// reserved names only collide once the defaults exist
	if _, err := s.Defaults(owner); err != nil {
		return nil, err
	}

	label := &models.Label{
		Owner:        owner,
		Name:         name,
		Color:        color,
		IsAttachable: true,
	}
	if err := s.labels.CreateLabel(label); err != nil {
		return nil, storeError(err, "failed to create label")
	}

	s.log.Info("label %q created for %s", name, owner)
	return label, nil
}

// RenameLabel renames one of owner's custom labels
func (s *LabelService) RenameLabel(owner, id, name string) (*models.Label, error) {
	name, err := cleanLabelName(name)
	if err != nil {
		return nil, err
	}
	return s.updateOwned(owner, id, func(l *models.Label) error {
		if l.IsDefault {
			return utils.ValidationError("default labels cannot be renamed", nil)
		}
		l.Name = name
		return nil
	})
}

// SetLabelColor changes the display colour of one of owner's labels
func (s *LabelService) SetLabelColor(owner, id, color string) (*models.Label, error) {
	color, err := cleanColor(color)
	if err != nil {
		return nil, err
	}
	return s.updateOwned(owner, id, func(l *models.Label) error {
		l.Color = color
		return nil
	})
}

// DeleteLabel removes one of owner's custom labels and detaches it from
// every mail
func (s *LabelService) DeleteLabel(owner, id string) error {
	label, err := s.ownedLabel(owner, id)
	if err != nil {
		return err
	}
	if label.IsDefault {
		return utils.ValidationError("default labels cannot be deleted", nil)
	}

	n, err := s.mails.RemoveLabelEverywhere(label.ID)
	if err != nil {
		return storeError(err, "failed to detach label")
	}
	if err := s.labels.DeleteLabel(label.ID); err != nil {
		return storeError(err, "failed to delete label")
	}

	s.log.Info("label %q of %s deleted, detached from %d mails", label.Name, owner, n)
	return nil
}

// ownedLabel loads a label and checks that owner holds it
func (s *LabelService) ownedLabel(owner, id string) (*models.Label, error) {
	label, err := s.labels.GetLabel(id)
	if err != nil {
		return nil, storeError(err, "label not found")
	}
	if label.Owner != owner {
		return nil, utils.ForbiddenError("label belongs to another user", nil)
	}
	return label, nil
}

// findByName resolves owner's label by case-insensitive name
func (s *LabelService) findByName(owner, name string) (*models.Label, error) {
	label, err := s.labels.FindLabelByName(owner, name)
	if errors.Is(err, storage.ErrLabelNotFound) {
		return nil, utils.NotFoundError("no label named "+name, err)
	}
	if err != nil {
		return nil, storeError(err, "failed to look up label")
	}
	return label, nil
}

func (s *LabelService) updateOwned(owner, id string, fn func(*models.Label) error) (*models.Label, error) {
	if _, err := s.ownedLabel(owner, id); err != nil {
		return nil, err
	}
	if _, err := s.Defaults(owner); err != nil {
		return nil, err
	}
	label, err := s.labels.UpdateLabel(id, fn)
	if err != nil {
		return nil, storeError(err, "failed to update label")
	}
	return label, nil
}

func cleanLabelName(name string) (string, error) {
	name = strings.TrimSpace(utils.StripHTML(name))
	if name == "" {
		return "", utils.ValidationError("label name is required", nil)
	}
	if utf8.RuneCountInString(name) > maxLabelNameLength {
		return "", utils.ValidationError("label name is too long", nil)
	}
	return name, nil
}

func cleanColor(color string) (string, error) {
	color = strings.TrimSpace(color)
	if color == "" {
		return models.DefaultColor, nil
	}
	if !colorPattern.MatchString(color) {
		return "", utils.ValidationError("color must be a hex code like #FF0000", nil)
	}
	return strings.ToUpper(color), nil
}
