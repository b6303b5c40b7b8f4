package models

import (
	"slices"
	"time"
)

// LabelRef points at a label in its owner's namespace. A mail's label set
// mixes refs from the sender and every recipient.
type LabelRef struct {
	Owner string `json:"owner"`
	ID    string `json:"id"`
}

// Mail is the single stored record shared by the sender and all recipients
type Mail struct {
	ID                 string     `json:"id"`
	From               string     `json:"from"`
	To                 []string   `json:"to"`
	Title              string     `json:"title"`
	Body               string     `json:"body"`
	Draft              bool       `json:"draft"`
	Labels             []LabelRef `json:"labels"`
	URLs               []string   `json:"urls"`
	DeletedBySender    bool       `json:"deleted_by_sender"`
	DeletedByRecipient []string   `json:"deleted_by_recipient"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HasLabel reports whether labelID is in the label set
func (m *Mail) HasLabel(labelID string) bool {
	return slices.IndexFunc(m.Labels, func(r LabelRef) bool { return r.ID == labelID }) >= 0
}

// AddLabel adds ref unless a ref with the same id is present. It reports
// whether the set changed.
func (m *Mail) AddLabel(ref LabelRef) bool {
	if ref.ID == "" || m.HasLabel(ref.ID) {
		return false
	}
	m.Labels = append(m.Labels, ref)
	return true
}

// RemoveLabel drops the ref with labelID and reports whether the set changed
func (m *Mail) RemoveLabel(labelID string) bool {
	n := len(m.Labels)
	m.Labels = slices.DeleteFunc(m.Labels, func(r LabelRef) bool { return r.ID == labelID })
	return len(m.Labels) != n
}

// LabelsOf returns the refs owned by username
func (m *Mail) LabelsOf(username string) []LabelRef {
	var refs []LabelRef
	for _, r := range m.Labels {
		if r.Owner == username {
			refs = append(refs, r)
		}
	}
	return refs
}

// DeletedBy reports whether username is in the recipient soft-delete set
func (m *Mail) DeletedBy(username string) bool {
	return slices.Contains(m.DeletedByRecipient, username)
}

// HasAnyURL reports whether any of urls appears in the mail's URL list
func (m *Mail) HasAnyURL(urls []string) bool {
	for _, u := range urls {
		if slices.Contains(m.URLs, u) {
			return true
		}
	}
	return false
}

// PublicMail is what a participant gets to see of a mail
type PublicMail struct {
	ID        string     `json:"id"`
	From      string     `json:"from"`
	To        []string   `json:"to"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Draft     bool       `json:"draft"`
	Labels    []LabelRef `json:"labels"`
	URLs      []string   `json:"urls"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// PublicFor projects the mail for username. Delete bookkeeping and labels
// owned by other users are never exposed.
func (m *Mail) PublicFor(username string) PublicMail {
	labels := m.LabelsOf(username)
	if labels == nil {
		labels = []LabelRef{}
	}
	to := m.To
	if to == nil {
		to = []string{}
	}
	urls := m.URLs
	if urls == nil {
		urls = []string{}
	}
	return PublicMail{
		ID:        m.ID,
		From:      m.From,
		To:        to,
		Title:     m.Title,
		Body:      m.Body,
		Draft:     m.Draft,
		Labels:    labels,
		URLs:      urls,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// PublicMails projects a list of mails for username
func PublicMails(mails []*Mail, username string) []PublicMail {
	out := make([]PublicMail, 0, len(mails))
	for _, m := range mails {
		out = append(out, m.PublicFor(username))
	}
	return out
}
