package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/internal/utils"
)

// IngestRequest is one inbound conversion notification after the transport
// layer has merged query, form and JSON parameters.
type IngestRequest struct {
	// ClickToken is the click-attribution token, sent on the wire as
	// "callback" (or "click_id" on the monitoring route).
	ClickToken string
	Params     RawParams
	Props      json.RawMessage

	RequestMethod string
	RequestIP     string
	UserAgent     string
}

// IngestResult is what the ingest endpoint reports back.
type IngestResult struct {
	EventID        int64
	Status         models.EventStatus
	ProcessingTime int
	Duplicate      bool
	Decision       Decision
	ErrorMessage   *string
}

// ConversionService runs the intake pipeline:
// normalize, dedup, create, mark processing, forward, mark result.
type ConversionService struct {
	store     EventStore
	ledger    *DedupLedger
	forwarder *CallbackForwarder
	notifier  EventNotifier
}

// NewConversionService creates a new ConversionService.
func NewConversionService(store EventStore, ledger *DedupLedger, forwarder *CallbackForwarder) *ConversionService {
	return &ConversionService{store: store, ledger: ledger, forwarder: forwarder, notifier: nopNotifier{}}
}

// SetNotifier attaches a live feed for created and finished events.
func (s *ConversionService) SetNotifier(n EventNotifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// Ingest validates req and runs it through the pipeline. Validation failures
// are returned before anything is persisted; duplicates come back as a
// result with Duplicate set and no new row.
func (s *ConversionService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	ev, err := buildEvent(req)
	if err != nil {
		return nil, err
	}

	decision, err := s.ledger.ShouldAdmit(ctx, ev)
	if err != nil {
		return nil, err
	}
	switch decision.Verdict {
	case VerdictDuplicate:
		return duplicateResult(decision), nil
	case VerdictRejected:
		return nil, fmt.Errorf("%w: %s", utils.ErrInvalidOuterEventID, decision.Reason)
	}

	// the caller may hang up; once the row exists it must still reach a final status
	ctx = context.WithoutCancel(ctx)

	if _, err := s.store.Create(ctx, ev); err != nil {
		if errors.Is(err, utils.ErrDuplicateOuterEventID) && ev.OuterEventID != nil {
			decision, rerr := s.ledger.Resolve(ctx, *ev.OuterEventID)
			if rerr != nil {
				return nil, rerr
			}
			return duplicateResult(decision), nil
		}
		return nil, fmt.Errorf("store event: %w", err)
	}
	s.ledger.Record(ctx, ev)

	result, err := s.process(ctx, ev)
	if err != nil {
		return nil, err
	}
	result.Decision = decision
	return result, nil
}

// Replay pushes a copy of a failed event through the pipeline as a new row.
// The original stays failed; the copy carries replay_of and no outer_event_id.
func (s *ConversionService) Replay(ctx context.Context, id int64) (*IngestResult, error) {
	orig, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status != models.EventStatusFailed {
		return nil, fmt.Errorf("%w: event %d is %s", utils.ErrEventNotReplayable, id, orig.Status)
	}

	ctx = context.WithoutCancel(ctx)
	method := "REPLAY"
	ev := &models.ConversionEvent{
		Callback:           orig.Callback,
		EventType:          orig.EventType,
		EventName:          orig.EventName,
		OS:                 orig.OS,
		DeviceIdentity:     orig.DeviceIdentity,
		ConvTime:           orig.ConvTime,
		MatchType:          orig.MatchType,
		OuterEventIdentity: orig.OuterEventIdentity,
		Source:             orig.Source,
		Props:              orig.Props,
		ReplayOf:           &orig.ID,
		RequestMethod:      &method,
	}

	if _, err := s.store.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("store replay of %d: %w", id, err)
	}
	log.Info().Int64("event_id", ev.ID).Int64("replay_of", id).Msg("Replaying failed conversion")

	result, err := s.process(ctx, ev)
	if err != nil {
		return nil, err
	}
	result.Decision = Decision{Verdict: VerdictAdmitted, Reason: ReasonNoOuterEventID}
	return result, nil
}

func (s *ConversionService) process(ctx context.Context, ev *models.ConversionEvent) (*IngestResult, error) {
	s.notifier.NotifyEventCreated(ev)

	if err := s.store.MarkProcessing(ctx, ev.ID); err != nil {
		log.Error().Err(err).Int64("event_id", ev.ID).Msg("Failed to mark conversion processing")
		return s.abandon(ctx, ev, fmt.Errorf("mark event %d processing: %w", ev.ID, err))
	}
	start := time.Now()

	fwd := s.forwarder.Forward(ctx, ev)
	elapsed := int(time.Since(start).Milliseconds())

	result := models.EventResult{
		Status:           fwd.Status,
		CallbackResponse: storablePtr(fwd.CallbackResponse),
		CallbackStatus:   fwd.CallbackStatus,
		ErrorMessage:     storablePtr(fwd.ErrorMessage),
		ProcessingTime:   elapsed,
	}
	if err := s.store.MarkResult(ctx, ev.ID, result); err != nil {
		log.Error().Err(err).Int64("event_id", ev.ID).Str("status", string(fwd.Status)).Msg("Failed to record forward result, recording bare failure")

		// a row must not stay processing; keep only what is sure to fit
		msg := storable("record result: " + err.Error())
		fallback := models.EventResult{
			Status:         models.EventStatusFailed,
			CallbackStatus: fwd.CallbackStatus,
			ErrorMessage:   &msg,
			ProcessingTime: elapsed,
		}
		if ferr := s.store.MarkResult(ctx, ev.ID, fallback); ferr != nil {
			log.Error().Err(ferr).Int64("event_id", ev.ID).Msg("Failed to record bare failure, event left processing")
			return nil, fmt.Errorf("mark event %d result: %w", ev.ID, errors.Join(err, ferr))
		}
		result = fallback
	}

	s.finish(ev, result)
	return &IngestResult{
		EventID:        ev.ID,
		Status:         result.Status,
		ProcessingTime: elapsed,
		ErrorMessage:   result.ErrorMessage,
	}, nil
}

// abandon closes a row that could not be marked processing as failed,
// without forwarding it. cause is returned if even that cannot be stored.
func (s *ConversionService) abandon(ctx context.Context, ev *models.ConversionEvent, cause error) (*IngestResult, error) {
	if errors.Is(cause, utils.ErrInvalidStatusTransition) {
		// the row is no longer pending, so it is not ours to close
		return nil, cause
	}
	if err := s.store.MarkProcessing(ctx, ev.ID); err != nil {
		log.Error().Err(err).Int64("event_id", ev.ID).Msg("Failed to close conversion, event left pending")
		return nil, errors.Join(cause, err)
	}

	msg := storable(cause.Error())
	result := models.EventResult{Status: models.EventStatusFailed, ErrorMessage: &msg}
	if err := s.store.MarkResult(ctx, ev.ID, result); err != nil {
		log.Error().Err(err).Int64("event_id", ev.ID).Msg("Failed to close conversion, event left processing")
		return nil, errors.Join(cause, err)
	}

	s.finish(ev, result)
	return &IngestResult{EventID: ev.ID, Status: models.EventStatusFailed, ErrorMessage: &msg}, nil
}

func (s *ConversionService) finish(ev *models.ConversionEvent, result models.EventResult) {
	pt := result.ProcessingTime
	ev.Status = result.Status
	ev.CallbackStatus = result.CallbackStatus
	ev.ErrorMessage = result.ErrorMessage
	ev.ProcessingTime = &pt
	s.notifier.NotifyEventFinished(ev)
}

func duplicateResult(d Decision) *IngestResult {
	return &IngestResult{EventID: d.ExistingID, Duplicate: true, Decision: d}
}

func buildEvent(req IngestRequest) (*models.ConversionEvent, error) {
	click := storable(strings.TrimSpace(req.ClickToken))
	if click == "" {
		return nil, utils.ErrMissingCallback
	}

	rawType := req.Params.Get("event_type")
	if rawType == "" {
		return nil, utils.ErrMissingEventType
	}
	eventType, err := strconv.Atoi(rawType)
	if err != nil || eventType < 0 {
		return nil, fmt.Errorf("%w: %q", utils.ErrInvalidEventType, rawType)
	}

	dev := NormalizeDevice(req.Params)
	ev := &models.ConversionEvent{
		Callback:           click,
		EventType:          eventType,
		EventName:          optional(clip(storable(req.Params.Get("event_name")), 128)),
		OS:                 dev.OS,
		DeviceIdentity:     dev.Identity,
		ConvTime:           dev.ConvTime,
		MatchType:          dev.MatchType,
		OuterEventID:       optional(req.Params.Get("outer_event_id")),
		OuterEventIdentity: optional(clip(storable(req.Params.Get("outer_event_identity")), 128)),
		Source:             optional(clip(storable(req.Params.Get("source")), 64)),
		RequestMethod:      optional(clip(req.RequestMethod, 8)),
		RequestIP:          optional(clip(req.RequestIP, 64)),
		UserAgent:          optional(storable(req.UserAgent)),
	}
	// jsonb rejects the \u0000 escape
	if len(req.Props) > 0 && json.Valid(req.Props) && utf8.Valid(req.Props) && !bytes.Contains(req.Props, []byte(`\u0000`)) {
		ev.Props = req.Props
	}
	return ev, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// clip truncates v to the column width n without splitting a character.
func clip(v string, n int) string {
	if len(v) <= n {
		return v
	}
	for n > 0 && !utf8.RuneStart(v[n]) {
		n--
	}
	return v[:n]
}

// storable makes v acceptable to a Postgres text column: valid UTF-8 and
// no NUL bytes.
func storable(v string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(v, "\uFFFD"), "\x00", "")
}

func storablePtr(v *string) *string {
	if v == nil {
		return nil
	}
	out := storable(*v)
	return &out
}
