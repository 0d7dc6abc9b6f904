package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/internal/utils"
)

const uniqueViolation = "23505"

const eventColumns = `
	id, callback, event_type, event_name, os,
	idfa, imei, oaid, oaid_md5, muid, caid1, caid2, android_id, idfv,
	conv_time, match_type, outer_event_id, outer_event_identity, source, props, replay_of,
	status, processing_time, callback_response, callback_status, error_message,
	request_method, request_ip, user_agent, received_at, processing_at, processed_at,
	created_at, updated_at`

// ConversionEventRepository persists conversion events in PostgreSQL.
type ConversionEventRepository struct {
	db *sqlx.DB
}

// NewConversionEventRepository creates a new ConversionEventRepository.
func NewConversionEventRepository(db *sqlx.DB) *ConversionEventRepository {
	return &ConversionEventRepository{db: db}
}

// nullableJSON converts an empty raw message to nil so PostgreSQL stores NULL.
// Non-empty values are sent as text; lib/pq would encode []byte as bytea.
func nullableJSON(v []byte) interface{} {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}

// Create inserts ev with status=pending and fills in its id and timestamps.
// A second row for the same outer_event_id yields utils.ErrDuplicateOuterEventID.
func (r *ConversionEventRepository) Create(ctx context.Context, ev *models.ConversionEvent) (int64, error) {
	const q = `
		INSERT INTO conversion_events (
			callback, event_type, event_name, os,
			idfa, imei, oaid, oaid_md5, muid, caid1, caid2, android_id, idfv,
			conv_time, match_type, outer_event_id, outer_event_identity, source, props, replay_of,
			status, request_method, request_ip, user_agent, received_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20,
			'pending', $21, $22, $23, NOW(), NOW(), NOW()
		) RETURNING id, received_at, created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, q,
		ev.Callback, ev.EventType, ev.EventName, ev.OS,
		ev.IDFA, ev.IMEI, ev.OAID, ev.OAIDMD5, ev.MUID, ev.CAID1, ev.CAID2, ev.AndroidID, ev.IDFV,
		ev.ConvTime, ev.MatchType, ev.OuterEventID, ev.OuterEventIdentity, ev.Source, nullableJSON(ev.Props), ev.ReplayOf,
		ev.RequestMethod, ev.RequestIP, ev.UserAgent,
	).Scan(&ev.ID, &ev.ReceivedAt, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, utils.ErrDuplicateOuterEventID
		}
		return 0, err
	}
	ev.Status = models.EventStatusPending
	return ev.ID, nil
}

// MarkProcessing moves a pending event to processing.
func (r *ConversionEventRepository) MarkProcessing(ctx context.Context, id int64) error {
	const q = `
		UPDATE conversion_events
		SET status = 'processing', processing_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

// MarkResult records the forwarding outcome of a processing event.
func (r *ConversionEventRepository) MarkResult(ctx context.Context, id int64, result models.EventResult) error {
	if !result.Status.IsFinal() {
		return fmt.Errorf("%w: result status %q is not final", utils.ErrInvalidStatusTransition, result.Status)
	}

	const q = `
		UPDATE conversion_events SET
			status = $2,
			callback_response = $3,
			callback_status = $4,
			error_message = $5,
			processing_time = $6,
			processed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`

	res, err := r.db.ExecContext(ctx, q,
		id, result.Status, result.CallbackResponse, result.CallbackStatus, result.ErrorMessage, result.ProcessingTime,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: event %d", utils.ErrInvalidStatusTransition, id)
	}
	return nil
}

// GetByID returns a single event.
func (r *ConversionEventRepository) GetByID(ctx context.Context, id int64) (*models.ConversionEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM conversion_events WHERE id = $1`
	var ev models.ConversionEvent
	if err := r.db.GetContext(ctx, &ev, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.ErrEventNotFound
		}
		return nil, err
	}
	return &ev, nil
}

// FindByOuterEventID returns the event owning outerEventID.
func (r *ConversionEventRepository) FindByOuterEventID(ctx context.Context, outerEventID string) (*models.ConversionEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM conversion_events WHERE outer_event_id = $1`
	var ev models.ConversionEvent
	if err := r.db.GetContext(ctx, &ev, q, outerEventID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.ErrEventNotFound
		}
		return nil, err
	}
	return &ev, nil
}

// EventFilter holds the optional filters for listing events.
type EventFilter struct {
	Status       *string
	EventType    *int
	Callback     *string
	OuterEventID *string
	StartDate    *string
	EndDate      *string
	Page         int
	Limit        int
}

// EventPage is one page of events plus the total match count.
type EventPage struct {
	Events     []models.ConversionEvent
	TotalItems int
	Page       int
	Limit      int
}

// List returns events matching filter, newest first.
func (r *ConversionEventRepository) List(ctx context.Context, filter EventFilter) (*EventPage, error) {
	where := ` FROM conversion_events WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != nil && *filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filter.Status)
		argIdx++
	}
	if filter.EventType != nil {
		where += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, *filter.EventType)
		argIdx++
	}
	if filter.Callback != nil && *filter.Callback != "" {
		where += fmt.Sprintf(" AND callback = $%d", argIdx)
		args = append(args, *filter.Callback)
		argIdx++
	}
	if filter.OuterEventID != nil && *filter.OuterEventID != "" {
		where += fmt.Sprintf(" AND outer_event_id = $%d", argIdx)
		args = append(args, *filter.OuterEventID)
		argIdx++
	}
	if filter.StartDate != nil && *filter.StartDate != "" {
		where += fmt.Sprintf(" AND received_at >= $%d::date", argIdx)
		args = append(args, *filter.StartDate)
		argIdx++
	}
	if filter.EndDate != nil && *filter.EndDate != "" {
		where += fmt.Sprintf(" AND received_at < ($%d::date + interval '1 day')", argIdx)
		args = append(args, *filter.EndDate)
		argIdx++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+where, args...); err != nil {
		return nil, err
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	offset := (filter.Page - 1) * filter.Limit

	q := fmt.Sprintf(`SELECT %s%s ORDER BY id DESC LIMIT $%d OFFSET $%d`, eventColumns, where, argIdx, argIdx+1)
	args = append(args, filter.Limit, offset)

	events := []models.ConversionEvent{}
	if err := r.db.SelectContext(ctx, &events, q, args...); err != nil {
		return nil, err
	}

	return &EventPage{Events: events, TotalItems: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// CountByStatus aggregates events per status.
func (r *ConversionEventRepository) CountByStatus(ctx context.Context) ([]models.EventStatusCount, error) {
	const q = `SELECT status, COUNT(*) AS count FROM conversion_events GROUP BY status ORDER BY status`
	counts := []models.EventStatusCount{}
	if err := r.db.SelectContext(ctx, &counts, q); err != nil {
		return nil, err
	}
	return counts, nil
}
