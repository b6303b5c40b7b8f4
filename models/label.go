package models

import "time"

// Default label names, provisioned once per user
const (
	LabelInbox   = "Inbox"
	LabelSent    = "Sent"
	LabelDrafts  = "Drafts"
	LabelSpam    = "Spam"
	LabelTrash   = "Trash"
	LabelStarred = "Starred"
)

// DefaultLabels lists the system labels in display order
var DefaultLabels = []string{
	LabelInbox,
	LabelSent,
	LabelDrafts,
	LabelSpam,
	LabelTrash,
	LabelStarred,
}

// lifecycleLabels are driven by send/draft state only and can never be
// toggled by hand
var lifecycleLabels = map[string]bool{
	LabelSent:   true,
	LabelDrafts: true,
}

// DefaultColor is used for custom labels created without a colour
const DefaultColor = "#808080"

// Label is a per-user mail label
type Label struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	Name         string    `json:"name"`
	Color        string    `json:"color"` // Hex code, e.g. "#FF0000"
	IsDefault    bool      `json:"is_default"`
	IsAttachable bool      `json:"is_attachable"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewDefaultLabel builds the system label called name for owner
func NewDefaultLabel(id, owner, name string) *Label {
	return &Label{
		ID:           id,
		Owner:        owner,
		Name:         name,
		Color:        DefaultColor,
		IsDefault:    true,
		IsAttachable: !lifecycleLabels[name],
		CreatedAt:    time.Now(),
	}
}

// Ref returns the mail label reference for l
func (l *Label) Ref() LabelRef {
	return LabelRef{Owner: l.Owner, ID: l.ID}
}

// PublicLabel is the client-facing view of a label
type PublicLabel struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Color        string `json:"color"`
	IsDefault    bool   `json:"is_default"`
	IsAttachable bool   `json:"is_attachable"`
}

// Public projects the label for its owner
func (l *Label) Public() PublicLabel {
	return PublicLabel{
		ID:           l.ID,
		Name:         l.Name,
		Color:        l.Color,
		IsDefault:    l.IsDefault,
		IsAttachable: l.IsAttachable,
	}
}
