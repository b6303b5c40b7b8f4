package models

// PaginatedMails represents a paginated list of mails
type PaginatedMails struct {
	Mails      []PublicMail `json:"mails"`
	Page       uint32       `json:"page"`
	PageSize   uint32       `json:"page_size"`
	TotalPages uint32       `json:"total_pages"`
	TotalMails uint32       `json:"total_mails"`
	HasNext    bool         `json:"has_next"`
	HasPrev    bool         `json:"has_prev"`
}

// NewPaginatedMails slices mails to the requested page and wraps the result
func NewPaginatedMails(mails []PublicMail, page, pageSize uint32) *PaginatedMails {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	total := uint32(len(mails))
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return &PaginatedMails{
		Mails:      mails[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		TotalMails: total,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}
