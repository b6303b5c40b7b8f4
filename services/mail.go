package services

import (
	"context"
	"errors"
	"slices"
	"strings"

	"postbox/metrics"
	"postbox/models"
	"postbox/storage"
	"postbox/urlnorm"
	"postbox/utils"

	"golang.org/x/text/cases"
)

// MailInput is a new mail as submitted by its sender
type MailInput struct {
	To    []string
	Title string
	Body  string
	Draft bool
}

// MailPatch carries the fields an edit changes. Nil fields are kept.
type MailPatch struct {
	To    *[]string
	Title *string
	Body  *string
	Draft *bool
}

// MailService runs the mail lifecycle: drafts, sending, deletion and label
// changes, including Spam propagation across a user's mails
type MailService struct {
	mails      MailStore
	labels     *LabelService
	users      UserDirectory
	scanner    Scanner
	notifier   Notifier
	addressing Addressing
	owners     *keyedMutex
	log        *utils.Logger
}

// NewMailService creates a mail service
func NewMailService(mails MailStore, labels *LabelService, users UserDirectory, scanner Scanner, addressing Addressing) *MailService {
	return &MailService{
		mails:      mails,
		labels:     labels,
		users:      users,
		scanner:    scanner,
		notifier:   nopNotifier{},
		addressing: addressing,
		owners:     newKeyedMutex(),
		log:        utils.Log.WithField("component", "mail"),
	}
}

// SetNotifier installs the receiver of delivery events
func (s *MailService) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// CreateMail stores a new draft or sends a new mail
func (s *MailService) CreateMail(ctx context.Context, sender string, in MailInput) (*models.Mail, error) {
	defaults, err := s.labels.Defaults(sender)
	if err != nil {
		return nil, err
	}

	mail := &models.Mail{
		From:  sender,
		To:    cleanRecipients(in.To),
		Title: cleanTitle(in.Title),
		Body:  utils.SanitizeBody(in.Body),
		Draft: in.Draft,
	}
	mail.URLs = urlnorm.FromMail(mail.Title, mail.Body)

	if mail.Draft {
		mail.AddLabel(defaults.Ref(models.LabelDrafts))
		if err := s.mails.CreateMail(mail); err != nil {
			return nil, storeError(err, "failed to save draft")
		}
		metrics.MailOperationsTotal.WithLabelValues("draft").Inc()
		s.log.Debug("draft %s saved by %s", mail.ID, sender)
		return mail, nil
	}

	if err := validateSendable(mail); err != nil {
		return nil, err
	}
	d, err := s.prepareDelivery(ctx, sender, mail, defaults)
	if err != nil {
		return nil, err
	}

	mail.AddLabel(defaults.Ref(models.LabelSent))
	d.apply(mail)
	if err := s.mails.CreateMail(mail); err != nil {
		return nil, storeError(err, "failed to store mail")
	}

	s.finishDelivery(mail, d)
	return mail, nil
}

// EditMail changes a mail. Only the sender may edit. Clearing the draft
// flag sends the mail.
func (s *MailService) EditMail(ctx context.Context, username, id string, patch MailPatch) (*models.Mail, error) {
	current, err := s.mails.GetMail(id)
	if err != nil {
		return nil, storeError(err, "mail not found")
	}
	if current.From != username {
		return nil, utils.ForbiddenError("only the sender can edit a mail", nil)
	}
	if current.DeletedBySender {
		return nil, utils.NotFoundError("mail not found", nil)
	}

	next := *current
	if patch.To != nil {
		next.To = cleanRecipients(*patch.To)
	}
	if patch.Title != nil {
		next.Title = cleanTitle(*patch.Title)
	}
	if patch.Body != nil {
		next.Body = utils.SanitizeBody(*patch.Body)
	}
	next.URLs = urlnorm.FromMail(next.Title, next.Body)

	if !current.Draft {
		if patch.Draft != nil && *patch.Draft {
			return nil, utils.ValidationError("a sent mail cannot become a draft again", nil)
		}
		if !slices.Equal(next.To, current.To) {
			return nil, utils.ValidationError("recipients of a sent mail cannot change", nil)
		}
		return s.editSent(username, &next)
	}

	if patch.Draft != nil && !*patch.Draft {
		return s.sendDraft(ctx, username, &next)
	}
	return s.editDraft(&next)
}

func (s *MailService) editDraft(next *models.Mail) (*models.Mail, error) {
	updated, err := s.mails.UpdateMail(next.ID, func(m *models.Mail) error {
		if !m.Draft {
			return errSentConcurrently
		}
		m.To, m.Title, m.Body, m.URLs = next.To, next.Title, next.Body, next.URLs
		return nil
	})
	if err != nil {
		return nil, storeError(err, "failed to update draft")
	}
	metrics.MailOperationsTotal.WithLabelValues("edit").Inc()
	return updated, nil
}

func (s *MailService) editSent(username string, next *models.Mail) (*models.Mail, error) {
	if err := validateSendable(next); err != nil {
		return nil, err
	}
	updated, err := s.mails.UpdateMail(next.ID, func(m *models.Mail) error {
		m.Title, m.Body, m.URLs = next.Title, next.Body, next.URLs
		return nil
	})
	if err != nil {
		return nil, storeError(err, "failed to update mail")
	}
	metrics.MailOperationsTotal.WithLabelValues("edit").Inc()
	s.log.Debug("sent mail %s edited by %s", next.ID, username)
	return updated, nil
}

// sendDraft performs the draft to sent transition
func (s *MailService) sendDraft(ctx context.Context, sender string, next *models.Mail) (*models.Mail, error) {
	if err := validateSendable(next); err != nil {
		return nil, err
	}
	defaults, err := s.labels.Defaults(sender)
	if err != nil {
		return nil, err
	}
	d, err := s.prepareDelivery(ctx, sender, next, defaults)
	if err != nil {
		return nil, err
	}

	updated, err := s.mails.UpdateMail(next.ID, func(m *models.Mail) error {
		if !m.Draft {
			return errSentConcurrently
		}
		m.To, m.Title, m.Body, m.URLs = next.To, next.Title, next.Body, next.URLs
		m.Draft = false
		m.RemoveLabel(defaults.ID(models.LabelDrafts))
		m.AddLabel(defaults.Ref(models.LabelSent))
		d.apply(m)
		return nil
	})
	if err != nil {
		return nil, storeError(err, "failed to send draft")
	}

	s.finishDelivery(updated, d)
	return updated, nil
}

// DeleteMail deletes a mail for username. The first delete moves it to the
// caller's Trash; deleting a trashed mail or an own draft removes it for
// everyone. A mail every participant has deleted is removed as well.
func (s *MailService) DeleteMail(ctx context.Context, username, id string) error {
	mail, err := s.mails.GetMail(id)
	if err != nil {
		return storeError(err, "mail not found")
	}
	if !s.isParticipant(mail, username) {
		return utils.ForbiddenError("not a participant of this mail", nil)
	}
	if mail.Draft && mail.From == username {
		return s.hardDelete(mail)
	}

	defaults, err := s.labels.Defaults(username)
	if err != nil {
		return err
	}
	trash := defaults.Ref(models.LabelTrash)
	if mail.HasLabel(trash.ID) {
		return s.hardDelete(mail)
	}

	updated, err := s.mails.UpdateMail(id, func(m *models.Mail) error {
		m.AddLabel(trash)
		s.setDeleted(m, username, true)
		return nil
	})
	if err != nil {
		return storeError(err, "failed to delete mail")
	}
	metrics.LabelChangesTotal.WithLabelValues("lifecycle", "add").Inc()
	metrics.MailOperationsTotal.WithLabelValues("soft_delete").Inc()

	if s.allDeleted(updated) {
		return s.hardDelete(updated)
	}
	return nil
}

// GetMail returns a mail username can see, including their trashed mails
func (s *MailService) GetMail(username, id string) (*models.Mail, error) {
	mail, err := s.mails.GetMail(id)
	if err != nil {
		return nil, storeError(err, "mail not found")
	}
	if s.CanAccess(mail, username) {
		return mail, nil
	}
	if s.isParticipant(mail, username) {
		defaults, err := s.labels.Defaults(username)
		if err != nil {
			return nil, err
		}
		if mail.HasLabel(defaults.ID(models.LabelTrash)) {
			return mail, nil
		}
	}
	return nil, utils.NotFoundError("mail not found", nil)
}

// AttachLabel adds one of username's labels to a mail. Attaching Trash can
// remove the mail for good; the returned mail is nil in that case.
func (s *MailService) AttachLabel(ctx context.Context, username, mailID, labelID string) (*models.Mail, error) {
	return s.toggleLabel(ctx, username, mailID, labelID, true)
}

// DetachLabel removes one of username's labels from a mail
func (s *MailService) DetachLabel(ctx context.Context, username, mailID, labelID string) (*models.Mail, error) {
	return s.toggleLabel(ctx, username, mailID, labelID, false)
}

func (s *MailService) toggleLabel(ctx context.Context, username, mailID, labelID string, attach bool) (*models.Mail, error) {
	label, err := s.labels.ownedLabel(username, labelID)
	if err != nil {
		return nil, err
	}
	if !label.IsAttachable {
		return nil, utils.ValidationError(label.Name+" is managed by the mail lifecycle", nil)
	}

	mail, err := s.mails.GetMail(mailID)
	if err != nil {
		return nil, storeError(err, "mail not found")
	}
	if !s.isParticipant(mail, username) {
		return nil, utils.ForbiddenError("not a participant of this mail", nil)
	}
	if mail.HasLabel(label.ID) == attach {
		return mail, nil
	}

	defaults, err := s.labels.Defaults(username)
	if err != nil {
		return nil, err
	}

	switch {
	case label.ID == defaults.ID(models.LabelTrash):
		return s.toggleTrash(username, mail, label.Ref(), attach)
	case label.ID == defaults.ID(models.LabelSpam) && !mail.Draft:
		return s.markSpam(ctx, username, mail, label.Ref(), attach)
	}

	updated, err := s.mails.UpdateMail(mail.ID, labelToggle(label.Ref(), attach))
	if err != nil {
		return nil, storeError(err, "failed to update labels")
	}
	metrics.LabelChangesTotal.WithLabelValues("user", action(attach)).Inc()
	return updated, nil
}

// toggleTrash keeps the Trash label and the soft-delete flag in step
func (s *MailService) toggleTrash(username string, mail *models.Mail, trash models.LabelRef, attach bool) (*models.Mail, error) {
	updated, err := s.mails.UpdateMail(mail.ID, func(m *models.Mail) error {
		if attach {
			m.AddLabel(trash)
		} else {
			m.RemoveLabel(trash.ID)
		}
		s.setDeleted(m, username, attach)
		return nil
	})
	if err != nil {
		return nil, storeError(err, "failed to update labels")
	}
	metrics.LabelChangesTotal.WithLabelValues("user", action(attach)).Inc()

	if attach && s.allDeleted(updated) {
		if err := s.hardDelete(updated); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return updated, nil
}

// ListMails returns the mails of one view. An empty view or "all" lists
// every visible mail outside Spam and Trash; any other view names one of
// the caller's labels.
func (s *MailService) ListMails(username, view string) ([]*models.Mail, error) {
	match, err := s.viewPredicate(username, view)
	if err != nil {
		return nil, err
	}
	mails, err := s.mails.FindMails(match)
	if err != nil {
		return nil, storeError(err, "failed to list mails")
	}
	return mails, nil
}

// SearchMails matches query against title, body and addresses of the mails
// in the caller's default view
func (s *MailService) SearchMails(username, query string) ([]*models.Mail, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, utils.ValidationError("search query is required", nil)
	}
	inView, err := s.viewPredicate(username, "")
	if err != nil {
		return nil, err
	}

	fold := cases.Fold()
	needle := fold.String(query)
	mails, err := s.mails.FindMails(func(m *models.Mail) bool {
		if !inView(m) {
			return false
		}
		haystack := []string{m.Title, m.Body, m.From, strings.Join(m.To, " ")}
		return slices.ContainsFunc(haystack, func(h string) bool {
			return strings.Contains(fold.String(h), needle)
		})
	})
	if err != nil {
		return nil, storeError(err, "failed to search mails")
	}
	return mails, nil
}

func (s *MailService) viewPredicate(username, view string) (func(*models.Mail) bool, error) {
	defaults, err := s.labels.Defaults(username)
	if err != nil {
		return nil, err
	}
	spamID := defaults.ID(models.LabelSpam)
	trashID := defaults.ID(models.LabelTrash)

	view = strings.TrimSpace(view)
	var labelID string
	if view != "" && !strings.EqualFold(view, "all") {
		label, err := s.labels.findByName(username, view)
		if err != nil {
			return nil, err
		}
		labelID = label.ID
	}

	switch labelID {
	case trashID:
		return func(m *models.Mail) bool { return m.HasLabel(trashID) }, nil
	case spamID:
		return func(m *models.Mail) bool { return m.HasLabel(spamID) && !m.HasLabel(trashID) }, nil
	}
	return func(m *models.Mail) bool {
		if m.HasLabel(spamID) || m.HasLabel(trashID) {
			return false
		}
		if labelID != "" && !m.HasLabel(labelID) {
			return false
		}
		return s.CanAccess(m, username)
	}, nil
}

func (s *MailService) hardDelete(mail *models.Mail) error {
	if err := s.mails.DeleteMail(mail.ID); err != nil {
		if errors.Is(err, storage.ErrMailNotFound) {
			return nil
		}
		return storeError(err, "failed to delete mail")
	}
	metrics.MailOperationsTotal.WithLabelValues("hard_delete").Inc()
	s.log.Info("mail %s removed", mail.ID)

	s.notifier.NotifyMailDeleted(mail.From, mail.ID)
	for _, u := range s.localRecipients(mail.To) {
		if u != mail.From && !mail.Draft {
			s.notifier.NotifyMailDeleted(u, mail.ID)
		}
	}
	return nil
}

var errSentConcurrently = utils.ValidationError("mail was sent by another request", nil)

func labelToggle(ref models.LabelRef, attach bool) func(*models.Mail) error {
	return func(m *models.Mail) error {
		var changed bool
		if attach {
			changed = m.AddLabel(ref)
		} else {
			changed = m.RemoveLabel(ref.ID)
		}
		if !changed {
			return storage.ErrNoChange
		}
		return nil
	}
}

func action(attach bool) string {
	if attach {
		return "add"
	}
	return "remove"
}

func validateSendable(m *models.Mail) error {
	switch {
	case len(m.To) == 0:
		return utils.ValidationError("at least one recipient is required", nil)
	case strings.TrimSpace(m.Title) == "":
		return utils.ValidationError("title is required", nil)
	case strings.TrimSpace(m.Body) == "":
		return utils.ValidationError("body is required", nil)
	}
	return nil
}

func cleanTitle(title string) string {
	return utils.StripHTML(title)
}

// cleanRecipients trims addresses and drops blanks and case-insensitive
// duplicates, keeping the first spelling
func cleanRecipients(to []string) []string {
	out := make([]string, 0, len(to))
	for _, addr := range to {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if slices.ContainsFunc(out, func(o string) bool { return strings.EqualFold(o, addr) }) {
			continue
		}
		out = append(out, addr)
	}
	return out
}
