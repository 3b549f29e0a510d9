// Package moderation is the pure predicate over records that the
// ingestion pipeline consults before persisting anything. It is an
// abstract collaborator outside the sync core's own scope, so this
// package intentionally stays small: an interface plus a couple of
// trivial implementations used by tests and default deployments.
package moderation

import "github.com/kindlyrobotics/meshsync/internal/record"

// Moderator decides which records in a batch are admitted. It must be
// total over its input: every uuid in the input map appears in the
// output map.
type Moderator interface {
	Moderate(records map[string]record.Record) map[string]bool
}

// AllowAll admits every record. It is the default for nodes that don't
// configure a moderation policy.
type AllowAll struct{}

// Moderate implements Moderator.
func (AllowAll) Moderate(records map[string]record.Record) map[string]bool {
	out := make(map[string]bool, len(records))
	for id := range records {
		out[id] = true
	}
	return out
}

// Blocklist rejects records whose bucket is in the configured set. It
// exists for tests that exercise the S5 moderation-rejection scenario.
type Blocklist struct {
	Buckets map[string]bool
}

// Moderate implements Moderator.
func (b Blocklist) Moderate(records map[string]record.Record) map[string]bool {
	out := make(map[string]bool, len(records))
	for id, rec := range records {
		out[id] = !b.Buckets[rec.Bucket]
	}
	return out
}
