package domain

import (
	"fmt"
	"strings"
)

// SegmentKind selects how a campaign audience is filtered.
type SegmentKind string

const (
	SegmentAll    SegmentKind = "all"
	SegmentTag    SegmentKind = "tag"
	SegmentStatus SegmentKind = "status"
)

func (k SegmentKind) String() string { return string(k) }

func (k SegmentKind) IsValid() bool {
	switch k {
	case SegmentAll, SegmentTag, SegmentStatus:
		return true
	}
	return false
}

func ParseSegmentKindFromString(s string) (SegmentKind, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return SegmentAll, nil
	}
	k := SegmentKind(trimmed)
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid segment type %q", ErrValidation, s)
	}
	return k, nil
}

// Segment is the audience definition of a campaign. Only the fields of its
// kind are meaningful: TagIDs for SegmentTag, Status for SegmentStatus.
// ExcludedTagIDs applies to every kind.
type Segment struct {
	Kind           SegmentKind
	TagIDs         []string
	Status         string
	ExcludedTagIDs []string
}

func AllContacts(excludedTagIDs ...string) Segment {
	return Segment{Kind: SegmentAll, ExcludedTagIDs: excludedTagIDs}.Normalize()
}

func ContactsWithTags(tagIDs []string, excludedTagIDs ...string) Segment {
	return Segment{Kind: SegmentTag, TagIDs: tagIDs, ExcludedTagIDs: excludedTagIDs}.Normalize()
}

func ContactsWithStatus(status string, excludedTagIDs ...string) Segment {
	return Segment{Kind: SegmentStatus, Status: status, ExcludedTagIDs: excludedTagIDs}.Normalize()
}

// Normalize drops fields that do not belong to the segment kind and
// deduplicates id lists.
func (s Segment) Normalize() Segment {
	if s.Kind == "" {
		s.Kind = SegmentAll
	}

	out := Segment{
		Kind:           s.Kind,
		ExcludedTagIDs: normalizeIDs(s.ExcludedTagIDs),
	}
	switch s.Kind {
	case SegmentTag:
		out.TagIDs = normalizeIDs(s.TagIDs)
	case SegmentStatus:
		out.Status = strings.TrimSpace(s.Status)
	}
	return out
}

func (s Segment) Validate() error {
	if !s.Kind.IsValid() {
		return fmt.Errorf("%w: invalid segment type %q", ErrValidation, s.Kind)
	}
	return nil
}

// TagFilter returns the tag ids a contact must carry at least one of, or nil
// when the segment does not filter by tag.
func (s Segment) TagFilter() []string {
	if s.Kind != SegmentTag || len(s.TagIDs) == 0 {
		return nil
	}
	return s.TagIDs
}

// StatusFilter returns the contact status to match, or "" for none.
func (s Segment) StatusFilter() string {
	if s.Kind != SegmentStatus {
		return ""
	}
	return s.Status
}

func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
