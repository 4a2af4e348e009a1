// Package detect classifies the difference between a local person and its remote record.
package detect

import (
	"sort"
	"strings"
	"unicode"

	"github.com/memohai/rolodex/internal/domain"
)

// Ownership decides how a field that differs between the two sides is reconciled.
type Ownership int

const (
	// AlwaysConflict escalates every difference to review. Fields missing from a policy get this.
	AlwaysConflict Ownership = iota
	// TwoWay applies the side that changed since the baseline; concurrent edits conflict.
	TwoWay
	// FromRemote lets the remote value overwrite the local one.
	FromRemote
	// FromLocal lets the local value overwrite the remote one.
	FromLocal
)

func (o Ownership) String() string {
	switch o {
	case TwoWay:
		return "two_way"
	case FromRemote:
		return "from_remote"
	case FromLocal:
		return "from_local"
	default:
		return "always_conflict"
	}
}

// Policy is the field ownership table.
type Policy map[string]Ownership

// DefaultPolicy covers every synced person field. The profile photo is owned by the directory.
func DefaultPolicy() Policy {
	p := Policy{}
	for _, f := range domain.SyncedFields {
		p[f] = TwoWay
	}
	p[domain.FieldImageURL] = FromRemote
	return p
}

// For returns the ownership of a field.
func (p Policy) For(field string) Ownership {
	if o, ok := p[field]; ok {
		return o
	}
	return AlwaysConflict
}

// Clean removes formatting noise from a value: surrounding and repeated whitespace for text,
// lower-cased sorted unique addresses for emails.
func Clean(field, v string) string {
	if field == domain.FieldEmails {
		seen := map[string]struct{}{}
		var addrs []string
		for _, a := range domain.SplitList(v) {
			a = strings.ToLower(a)
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			addrs = append(addrs, a)
		}
		sort.Strings(addrs)
		return strings.Join(addrs, ",")
	}
	if field == domain.FieldNotes {
		return strings.TrimSpace(v)
	}
	return strings.Join(strings.Fields(v), " ")
}

// key is the comparison form of a cleaned value.
func key(field, v string) string {
	switch field {
	case domain.FieldPhone:
		var b strings.Builder
		for i, r := range strings.TrimSpace(v) {
			if r == '+' && i == 0 {
				b.WriteRune(r)
			}
			if unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		return b.String()
	case domain.FieldLinkedInURL:
		v = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(v), "/"))
		v = strings.TrimPrefix(v, "https://")
		v = strings.TrimPrefix(v, "http://")
		return strings.TrimPrefix(v, "www.")
	case domain.FieldSocialHandle:
		return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(v), "@"))
	}
	return Clean(field, v)
}

// Same reports whether two values are equal after normalization.
func Same(field, a, b string) bool {
	return key(field, a) == key(field, b)
}

// CleanSet applies Clean to every field.
func CleanSet(fs domain.FieldSet) domain.FieldSet {
	out := make(domain.FieldSet, len(fs))
	for k, v := range fs {
		out[k] = Clean(k, v)
	}
	return out
}
