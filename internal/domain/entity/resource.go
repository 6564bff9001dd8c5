package entity

import (
	"fmt"
	"strings"
	"time"
)

// MinCheckInterval is the shortest supported polling cadence.
const MinCheckInterval = time.Second

// maxNameLength bounds resource names and categories.
const maxNameLength = 200

// Extractor names select how fetched bodies are reduced before hashing.
const (
	ExtractorRaw      = "raw"
	ExtractorText     = "text"
	ExtractorArticle  = "article"
	ExtractorFeed     = "feed"
	ExtractorSelector = "selector"
)

// MonitoredResource is a resource whose content is polled for changes.
type MonitoredResource struct {
	ID       string            `json:"id"`
	Locator  string            `json:"locator"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	// Extractor is "raw", "text", "article", "feed" or "selector:<css>".
	Extractor     string            `json:"extractor"`
	CheckInterval time.Duration     `json:"check_interval"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Enabled       bool              `json:"enabled"`

	CreatedAt         time.Time `json:"created_at"`
	LastCheckedAt     time.Time `json:"last_checked_at,omitempty"`
	LastChangedAt     time.Time `json:"last_changed_at,omitempty"`
	ChangeCount       int       `json:"change_count"`
	CheckCount        int       `json:"check_count"`
	ErrorCount        int       `json:"error_count"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (r *MonitoredResource) Clone() *MonitoredResource {
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ResourceConfig is the registration record for a new resource.
type ResourceConfig struct {
	Locator       string
	Name          string
	Category      string
	CheckInterval time.Duration
	Extractor     string
	Metadata      map[string]string
	// Disabled registers the resource without scheduling it.
	Disabled bool
}

// Validate checks the registration record. An empty Name defaults to the
// locator, and an empty Extractor to "raw".
func (c *ResourceConfig) Validate() error {
	if err := ValidateLocator(c.Locator); err != nil {
		return err
	}
	if c.Name == "" {
		c.Name = c.Locator
	}
	if len(c.Name) > maxNameLength {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("name must not exceed %d characters", maxNameLength)}
	}
	if len(c.Category) > maxNameLength {
		return &ValidationError{Field: "category", Message: fmt.Sprintf("category must not exceed %d characters", maxNameLength)}
	}
	if c.CheckInterval < MinCheckInterval {
		return &ValidationError{Field: "check_interval", Message: fmt.Sprintf("must be at least %s", MinCheckInterval)}
	}
	if c.Extractor == "" {
		c.Extractor = ExtractorRaw
	}
	return ValidateExtractor(c.Extractor)
}

// ResourceUpdate carries the fields to change on an existing resource.
// Nil fields are left untouched.
type ResourceUpdate struct {
	Name          *string
	Category      *string
	CheckInterval *time.Duration
	Locator       *string
	Extractor     *string
	Metadata      map[string]string
}

// Validate checks the fields that are set.
func (u *ResourceUpdate) Validate() error {
	if u.Locator != nil {
		if err := ValidateLocator(*u.Locator); err != nil {
			return err
		}
	}
	if u.Name != nil && (*u.Name == "" || len(*u.Name) > maxNameLength) {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("name must be 1-%d characters", maxNameLength)}
	}
	if u.Category != nil && len(*u.Category) > maxNameLength {
		return &ValidationError{Field: "category", Message: fmt.Sprintf("category must not exceed %d characters", maxNameLength)}
	}
	if u.CheckInterval != nil && *u.CheckInterval < MinCheckInterval {
		return &ValidationError{Field: "check_interval", Message: fmt.Sprintf("must be at least %s", MinCheckInterval)}
	}
	if u.Extractor != nil {
		return ValidateExtractor(*u.Extractor)
	}
	return nil
}

// ResetsBaseline reports whether the update changes what is fetched, so the
// previous content hash no longer applies.
func (u *ResourceUpdate) ResetsBaseline() bool {
	return u.Locator != nil || u.Extractor != nil
}

// ValidateExtractor accepts the known extractor names and "selector:<css>".
func ValidateExtractor(name string) error {
	kind, arg := ParseExtractor(name)
	switch kind {
	case ExtractorRaw, ExtractorText, ExtractorArticle, ExtractorFeed:
		if arg != "" {
			return &ValidationError{Field: "extractor", Message: fmt.Sprintf("%s takes no argument", kind)}
		}
		return nil
	case ExtractorSelector:
		if strings.TrimSpace(arg) == "" {
			return &ValidationError{Field: "extractor", Message: "selector extractor requires a CSS selector"}
		}
		return nil
	}
	return &ValidationError{Field: "extractor", Message: fmt.Sprintf("unknown extractor %q", name)}
}

// ParseExtractor splits "kind:arg". An empty name is "raw".
func ParseExtractor(name string) (kind, arg string) {
	if name == "" {
		return ExtractorRaw, ""
	}
	kind, arg, _ = strings.Cut(name, ":")
	return kind, arg
}
