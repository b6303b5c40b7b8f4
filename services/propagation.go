package services

import (
	"context"
	"errors"

	"postbox/metrics"
	"postbox/models"
	"postbox/storage"
)

// delivery is everything a send decides before the mail is written
type delivery struct {
	sender     string
	recipients []string
	inbox      []models.LabelRef
	spam       models.LabelRef
	matched    []string
}

// apply adds the delivery's labels to m
func (d *delivery) apply(m *models.Mail) {
	for _, ref := range d.inbox {
		m.AddLabel(ref)
	}
	if len(d.matched) > 0 {
		m.AddLabel(d.spam)
	}
}

// prepareDelivery resolves recipients and scans the mail once. Matched URLs
// are reported before anything is written, so a fail-closed blacklist error
// leaves no trace.
func (s *MailService) prepareDelivery(ctx context.Context, sender string, mail *models.Mail, defaults DefaultSet) (*delivery, error) {
	d := &delivery{
		sender:     sender,
		recipients: s.localRecipients(mail.To),
		spam:       defaults.Ref(models.LabelSpam),
	}
	for _, u := range d.recipients {
		rd, err := s.labels.Defaults(u)
		if err != nil {
			return nil, err
		}
		d.inbox = append(d.inbox, rd.Ref(models.LabelInbox))
	}

	res, err := s.scanner.Scan(ctx, mail.URLs)
	if err != nil {
		return nil, err
	}
	if res.HasMatch {
		if err := s.scanner.Report(ctx, res.Matched); err != nil {
			return nil, err
		}
		d.matched = res.Matched
	}
	return d, nil
}

// finishDelivery runs the post-write side effects of a send
func (s *MailService) finishDelivery(mail *models.Mail, d *delivery) {
	metrics.MailOperationsTotal.WithLabelValues("send").Inc()
	if len(d.matched) > 0 {
		s.log.Info("mail %s from %s matched %d blacklisted urls", mail.ID, d.sender, len(d.matched))
		s.propagateSpam(d.sender, d.spam, d.matched, mail.ID)
	}
	for _, u := range d.recipients {
		s.notifier.NotifyNewMail(u, mail)
	}
}

// propagateSpam adds owner's Spam label to every other sent mail owner can
// see that contains one of matched
func (s *MailService) propagateSpam(owner string, spam models.LabelRef, matched []string, exclude string) {
	unlock := s.owners.Lock(owner)
	defer unlock()

	candidates, err := s.mails.FindMailsByURLs(matched)
	if err != nil {
		s.log.Error("spam propagation for %s: %v", owner, err)
		return
	}
	var plan spamPlan
	for _, m := range s.spamCandidates(candidates, owner, exclude) {
		if !m.HasLabel(spam.ID) {
			plan.add = append(plan.add, m.ID)
		}
	}
	s.applySpam(owner, spam, plan)
}

// markSpam attaches or detaches owner's Spam label on a sent mail. The
// mail's URLs are reported to or retracted from the blacklist and owner's
// other mails sharing them are reconciled against the result.
func (s *MailService) markSpam(ctx context.Context, owner string, mail *models.Mail, spam models.LabelRef, attach bool) (*models.Mail, error) {
	unlock := s.owners.Lock(owner)
	defer unlock()

	var err error
	if attach {
		err = s.scanner.Report(ctx, mail.URLs)
	} else {
		err = s.scanner.Retract(ctx, mail.URLs)
	}
	if err != nil {
		return nil, err
	}

	plan, err := s.planSpam(ctx, owner, spam.ID, mail.URLs, mail.ID)
	if err != nil {
		return nil, err
	}

	updated, err := s.mails.UpdateMail(mail.ID, labelToggle(spam, attach))
	if err != nil {
		return nil, storeError(err, "failed to update labels")
	}
	metrics.LabelChangesTotal.WithLabelValues("user", action(attach)).Inc()

	s.applySpam(owner, spam, plan)
	return updated, nil
}

type spamPlan struct {
	add    []string
	remove []string
}

// planSpam computes the Spam membership owner's mails sharing urls should
// have. A degraded scan plans nothing.
func (s *MailService) planSpam(ctx context.Context, owner, spamID string, urls []string, exclude string) (spamPlan, error) {
	var plan spamPlan
	if len(urls) == 0 {
		return plan, nil
	}

	found, err := s.mails.FindMailsByURLs(urls)
	if err != nil {
		return plan, storeError(err, "failed to find related mails")
	}
	candidates := s.spamCandidates(found, owner, exclude)
	if len(candidates) == 0 {
		return plan, nil
	}

	var union []string
	for _, m := range candidates {
		union = append(union, m.URLs...)
	}
	res, err := s.scanner.Scan(ctx, union)
	if err != nil {
		return plan, err
	}
	if res.Degraded {
		s.log.Warn("skipping spam reconciliation for %s: blacklist unavailable", owner)
		return plan, nil
	}

	for _, m := range candidates {
		want := m.HasAnyURL(res.Matched)
		has := m.HasLabel(spamID)
		switch {
		case want && !has:
			plan.add = append(plan.add, m.ID)
		case !want && has:
			plan.remove = append(plan.remove, m.ID)
		}
	}
	return plan, nil
}

// spamCandidates keeps the sent mails owner can see, minus exclude
func (s *MailService) spamCandidates(mails []*models.Mail, owner, exclude string) []*models.Mail {
	var out []*models.Mail
	for _, m := range mails {
		if m.ID == exclude || m.Draft || !s.CanAccess(m, owner) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// applySpam writes a plan with set-based updates. Mails deleted in the
// meantime are skipped.
func (s *MailService) applySpam(owner string, spam models.LabelRef, plan spamPlan) {
	for _, id := range plan.add {
		changed, err := s.mails.AddLabels(id, spam)
		s.recordPropagation(owner, id, "add", changed, err)
	}
	for _, id := range plan.remove {
		changed, err := s.mails.RemoveLabels(id, spam.ID)
		s.recordPropagation(owner, id, "remove", changed, err)
	}
}

func (s *MailService) recordPropagation(owner, mailID, act string, changed bool, err error) {
	switch {
	case errors.Is(err, storage.ErrMailNotFound):
	case err != nil:
		s.log.Error("spam %s on mail %s for %s: %v", act, mailID, owner, err)
	case changed:
		metrics.LabelChangesTotal.WithLabelValues("propagation", act).Inc()
	}
}
