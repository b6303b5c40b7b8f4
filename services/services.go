// Package services holds the mail lifecycle and label propagation engine.
// Handlers call into MailService and LabelService with the caller's username;
// persistence, identity and the blacklist are reached through the interfaces
// below.
package services

import (
	"context"
	"errors"
	"strings"

	"postbox/models"
	"postbox/spam"
	"postbox/storage"
	"postbox/utils"
)

// MailStore persists mails. Label set changes must be atomic per mail.
type MailStore interface {
	CreateMail(mail *models.Mail) error
	GetMail(id string) (*models.Mail, error)
	UpdateMail(id string, fn func(*models.Mail) error) (*models.Mail, error)
	AddLabels(id string, refs ...models.LabelRef) (bool, error)
	RemoveLabels(id string, labelIDs ...string) (bool, error)
	DeleteMail(id string) error
	FindMails(match func(*models.Mail) bool) ([]*models.Mail, error)
	FindMailsByURLs(urls []string) ([]*models.Mail, error)
	RemoveLabelEverywhere(labelID string) (int, error)
}

// LabelStore persists per-user labels
type LabelStore interface {
	CreateLabel(label *models.Label) error
	EnsureDefaultLabels(owner string) ([]*models.Label, error)
	GetLabel(id string) (*models.Label, error)
	FindLabelByName(owner, name string) (*models.Label, error)
	GetLabelsByUser(owner string) ([]*models.Label, error)
	UpdateLabel(id string, fn func(*models.Label) error) (*models.Label, error)
	DeleteLabel(id string) error
}

// UserDirectory resolves usernames to accounts
type UserDirectory interface {
	GetUserByUsername(username string) (*models.User, error)
}

// Scanner classifies URLs against the blacklist and writes to it
type Scanner interface {
	Scan(ctx context.Context, urls []string) (spam.Result, error)
	Report(ctx context.Context, urls []string) error
	Retract(ctx context.Context, urls []string) error
}

// Notifier receives delivery events. Implementations must not block.
type Notifier interface {
	NotifyNewMail(username string, mail *models.Mail)
	NotifyMailDeleted(username, mailID string)
}

type nopNotifier struct{}

func (nopNotifier) NotifyNewMail(string, *models.Mail) {}
func (nopNotifier) NotifyMailDeleted(string, string)   {}

// Addressing maps recipient addresses to local usernames
type Addressing struct {
	Domain          string
	UsernameIsEmail bool
}

// Username returns the local username an address refers to. Addresses on
// other domains are not local.
func (a Addressing) Username(addr string) (string, bool) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return "", false
	}
	if a.UsernameIsEmail {
		return addr, true
	}
	i := strings.LastIndexByte(addr, '@')
	if i < 0 {
		return addr, true
	}
	if addr[i+1:] != strings.ToLower(a.Domain) {
		return "", false
	}
	return addr[:i], true
}

// storeError maps storage failures onto the error taxonomy
func storeError(err error, message string) error {
	var appErr *utils.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, storage.ErrMailNotFound),
		errors.Is(err, storage.ErrLabelNotFound),
		errors.Is(err, storage.ErrUserNotFound):
		return utils.NotFoundError(message, err)
	case errors.Is(err, storage.ErrLabelExists):
		return utils.ValidationError("label name already in use", err)
	default:
		return utils.InternalServerError(message, err)
	}
}
