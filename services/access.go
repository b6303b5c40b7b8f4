package services

import (
	"slices"

	"postbox/models"
)

// addressed reports whether any recipient address of mail is username
func (s *MailService) addressed(mail *models.Mail, username string) bool {
	return slices.ContainsFunc(mail.To, func(addr string) bool {
		u, ok := s.addressing.Username(addr)
		return ok && u == username
	})
}

// CanAccess reports whether username may see mail in regular views. The
// sender sees it until they delete it. A recipient sees it once it is sent,
// until they delete it.
func (s *MailService) CanAccess(mail *models.Mail, username string) bool {
	if mail.From == username && !mail.DeletedBySender {
		return true
	}
	return !mail.Draft && s.addressed(mail, username) && !mail.DeletedBy(username)
}

// isParticipant reports whether username may act on mail at all
func (s *MailService) isParticipant(mail *models.Mail, username string) bool {
	if mail.From == username {
		return true
	}
	return !mail.Draft && s.addressed(mail, username)
}

// localRecipients resolves the addresses of mail to existing local users,
// in address order without duplicates
func (s *MailService) localRecipients(to []string) []string {
	var users []string
	for _, addr := range to {
		username, ok := s.addressing.Username(addr)
		if !ok || slices.Contains(users, username) {
			continue
		}
		if _, err := s.users.GetUserByUsername(username); err != nil {
			continue
		}
		users = append(users, username)
	}
	return users
}

// allDeleted reports whether every participant has soft-deleted mail. Each
// addressed recipient must be a local user with their flag set, and at least
// one of them must be someone other than the sender, so a mail sent only to
// oneself or only to other domains is never removed by a single delete.
func (s *MailService) allDeleted(mail *models.Mail) bool {
	if !mail.DeletedBySender {
		return false
	}
	others := false
	for _, addr := range mail.To {
		u, ok := s.addressing.Username(addr)
		if !ok {
			return false
		}
		if _, err := s.users.GetUserByUsername(u); err != nil {
			return false
		}
		if !mail.DeletedBy(u) {
			return false
		}
		if u != mail.From {
			others = true
		}
	}
	return others
}

// setDeleted sets or clears username's soft-delete flag on mail. A mail
// sent to oneself carries both flags for the same user.
func (s *MailService) setDeleted(mail *models.Mail, username string, deleted bool) {
	if mail.From == username {
		mail.DeletedBySender = deleted
	}
	if !s.addressed(mail, username) {
		return
	}
	has := mail.DeletedBy(username)
	switch {
	case deleted && !has:
		mail.DeletedByRecipient = append(mail.DeletedByRecipient, username)
	case !deleted && has:
		mail.DeletedByRecipient = slices.DeleteFunc(mail.DeletedByRecipient, func(u string) bool { return u == username })
	}
}
