package template

import "time"

// Type names the channel a template renders for.
type Type string

const (
	TypeEmail Type = "email"
	TypePush  Type = "push"
)

// Valid reports whether t is one of the declared template types.
func (t Type) Valid() bool { return t == TypeEmail || t == TypePush }

// Template is a versioned, per-language notification template. Two
// templates sharing a Code render the same logical notification in
// different languages; each (Code, Language) pair evolves through its own
// monotonically increasing Version, with every past version retained in
// template_versions.
type Template struct {
	ID          string
	Code        string
	Type        Type
	Language    string
	Version     int
	Content     map[string]string // field name -> body, e.g. "subject", "body", each possibly containing {{ident}} placeholders
	Variables   []string          // placeholder identifiers the content is allowed to reference
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CreatedBy   string
	UpdatedBy   string
	DeletedAt   *time.Time
}

// IsDeleted reports whether the template has been soft-deleted.
func (t *Template) IsDeleted() bool { return t.DeletedAt != nil }

// TemplateVersion is an immutable snapshot of a Template as it existed
// before a subsequent update.
type TemplateVersion struct {
	ID            string
	TemplateID    string
	Version       int
	Type          Type
	Content       map[string]string
	Variables     []string
	Description   string
	CreatedAt     time.Time
	CreatedBy     string
	ChangeSummary string
}

// ListFilters narrows and paginates Template listings.
type ListFilters struct {
	Language string
	Search   string
	Sort     string
	Order    string
	Limit    int
	Offset   int
}

// DefaultListFilters returns filters for the first page of all templates.
func DefaultListFilters() ListFilters {
	return ListFilters{Limit: 50, Offset: 0, Sort: "code", Order: "asc"}
}

// VersionFilters paginates TemplateVersion listings for one template.
type VersionFilters struct {
	Limit  int
	Offset int
}
