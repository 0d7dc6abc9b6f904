package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/conversion_api/internal/metrics"
	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/internal/utils"
)

// Verdict is the ledger's decision for an incoming event.
type Verdict int

const (
	VerdictAdmitted Verdict = iota
	VerdictDuplicate
	VerdictRejected
)

func (v Verdict) String() string {
	switch v {
	case VerdictAdmitted:
		return "admitted"
	case VerdictDuplicate:
		return "duplicate"
	case VerdictRejected:
		return "rejected"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Dedup reasons.
const (
	ReasonNewOuterEventID     = "new_outer_event_id"
	ReasonNoOuterEventID      = "no_outer_event_id"
	ReasonKnownOuterEventID   = "known_outer_event_id"
	ReasonConcurrentInsert    = "concurrent_insert"
	ReasonInvalidOuterEventID = "invalid_outer_event_id"
)

// Decision is what ShouldAdmit returns. ExistingID is set for duplicates.
type Decision struct {
	Verdict    Verdict
	Reason     string
	ExistingID int64
}

// DedupLedger decides whether an event was already accepted. Only the
// caller-declared outer_event_id is used as a key; events without one are
// always admitted, so two identical keyless submissions become two rows.
type DedupLedger struct {
	store EventStore
	keys  KeyCache
}

// NewDedupLedger creates a DedupLedger. keys may be nil when Redis is not configured.
func NewDedupLedger(store EventStore, keys KeyCache) *DedupLedger {
	return &DedupLedger{store: store, keys: keys}
}

// ShouldAdmit looks the event's outer_event_id up in the key cache and then
// the store. Cache errors fall through to the store.
func (l *DedupLedger) ShouldAdmit(ctx context.Context, ev *models.ConversionEvent) (Decision, error) {
	if ev.OuterEventID == nil || *ev.OuterEventID == "" {
		return l.decide(Decision{Verdict: VerdictAdmitted, Reason: ReasonNoOuterEventID}), nil
	}
	key := *ev.OuterEventID
	if len(key) > maxIdentifierLen || !printableASCII(key) {
		return l.decide(Decision{Verdict: VerdictRejected, Reason: ReasonInvalidOuterEventID}), nil
	}

	if l.keys != nil {
		id, found, err := l.keys.Lookup(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("outer_event_id", key).Msg("dedup cache lookup failed, using database")
		} else if found {
			return l.decide(Decision{Verdict: VerdictDuplicate, Reason: ReasonKnownOuterEventID, ExistingID: id}), nil
		}
	}

	existing, err := l.store.FindByOuterEventID(ctx, key)
	switch {
	case errors.Is(err, utils.ErrEventNotFound):
		return l.decide(Decision{Verdict: VerdictAdmitted, Reason: ReasonNewOuterEventID}), nil
	case err != nil:
		return Decision{}, fmt.Errorf("dedup lookup: %w", err)
	}

	l.remember(ctx, key, existing.ID)
	return l.decide(Decision{Verdict: VerdictDuplicate, Reason: ReasonKnownOuterEventID, ExistingID: existing.ID}), nil
}

// Resolve turns a unique violation on insert into a Duplicate decision
// pointing at the row that won the race.
func (l *DedupLedger) Resolve(ctx context.Context, outerEventID string) (Decision, error) {
	existing, err := l.store.FindByOuterEventID(ctx, outerEventID)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve duplicate %s: %w", outerEventID, err)
	}
	l.remember(ctx, outerEventID, existing.ID)
	return l.decide(Decision{Verdict: VerdictDuplicate, Reason: ReasonConcurrentInsert, ExistingID: existing.ID}), nil
}

// Record remembers a freshly created event's key.
func (l *DedupLedger) Record(ctx context.Context, ev *models.ConversionEvent) {
	if ev.OuterEventID == nil || *ev.OuterEventID == "" {
		return
	}
	l.remember(ctx, *ev.OuterEventID, ev.ID)
}

func (l *DedupLedger) remember(ctx context.Context, key string, id int64) {
	if l.keys == nil {
		return
	}
	if err := l.keys.Remember(ctx, key, id); err != nil {
		log.Warn().Err(err).Str("outer_event_id", key).Msg("failed to cache outer_event_id")
	}
}

func (l *DedupLedger) decide(d Decision) Decision {
	metrics.DedupDecisions.WithLabelValues(d.Verdict.String(), d.Reason).Inc()
	return d
}
