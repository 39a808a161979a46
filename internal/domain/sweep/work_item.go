package sweep

import "strings"

// WorkItem is a single unit of sweep work: the primary address of a
// directory account whose device registrations are to be inventoried or
// revoked. Items are immutable once enumerated into a run.
type WorkItem string

// Key returns the cache key for the item. Keys are case-insensitive since
// the directory treats account addresses that way.
func (w WorkItem) Key() string { return strings.ToLower(string(w)) }

// IsValid reports whether the item can be scheduled into a run. An item
// must be a plausible account address; anything else marks the whole
// enumerated list as malformed.
func (w WorkItem) IsValid() bool {
	s := string(w)
	at := strings.Index(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\n")
}

// RunKind distinguishes the two kinds of runs. A purge run revokes device
// registrations; an audit run only inventories them. The two kinds never
// share a persisted record.
type RunKind string

const (
	// RunKindPurge removes device registrations of suspended accounts.
	RunKindPurge RunKind = "PURGE"

	// RunKindAudit counts device registrations without touching them.
	RunKindAudit RunKind = "AUDIT"
)

// Destructive reports whether runs of this kind act on devices.
func (k RunKind) Destructive() bool { return k == RunKindPurge }

// IsValid reports whether k is a known run kind.
func (k RunKind) IsValid() bool { return k == RunKindPurge || k == RunKindAudit }

// String returns the kind as a string.
func (k RunKind) String() string { return string(k) }
