package models

import (
	"encoding/json"
	"time"
)

// EventStatus is the processing state of a conversion event. It only moves
// forward: pending -> processing -> success|failed.
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusSuccess    EventStatus = "success"
	EventStatusFailed     EventStatus = "failed"
)

// IsFinal reports whether no further transition is allowed from s.
func (s EventStatus) IsFinal() bool {
	return s == EventStatusSuccess || s == EventStatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal forward transition.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	switch s {
	case EventStatusPending:
		return next == EventStatusProcessing
	case EventStatusProcessing:
		return next == EventStatusSuccess || next == EventStatusFailed
	default:
		return false
	}
}

// OS values as sent by SDKs.
const (
	OSAndroid = 0
	OSIOS     = 1
)

// Match types used for attribution.
const (
	MatchTypeClick      = 0
	MatchTypeImpression = 1
	MatchTypeValidPlay  = 2
)

// DeviceIdentity is the canonical set of device identifiers attached to a
// conversion. Absent identifiers are nil.
type DeviceIdentity struct {
	IDFA      *string `db:"idfa" json:"idfa,omitempty"`
	IMEI      *string `db:"imei" json:"imei,omitempty"`
	OAID      *string `db:"oaid" json:"oaid,omitempty"`
	OAIDMD5   *string `db:"oaid_md5" json:"oaid_md5,omitempty"`
	MUID      *string `db:"muid" json:"muid,omitempty"`
	CAID1     *string `db:"caid1" json:"caid1,omitempty"`
	CAID2     *string `db:"caid2" json:"caid2,omitempty"`
	AndroidID *string `db:"android_id" json:"android_id,omitempty"`
	IDFV      *string `db:"idfv" json:"idfv,omitempty"`
}

// Empty reports whether no identifier is present.
func (d DeviceIdentity) Empty() bool {
	for _, v := range []*string{d.IDFA, d.IMEI, d.OAID, d.OAIDMD5, d.MUID, d.CAID1, d.CAID2, d.AndroidID, d.IDFV} {
		if v != nil {
			return false
		}
	}
	return true
}

// ConversionEvent is a single ad-conversion notification and its forwarding outcome.
type ConversionEvent struct {
	ID int64 `db:"id" json:"id"`

	// Callback is the opaque click-attribution token issued by the ad platform.
	Callback  string  `db:"callback" json:"callback"`
	EventType int     `db:"event_type" json:"event_type"`
	EventName *string `db:"event_name" json:"event_name,omitempty"`
	OS        *int    `db:"os" json:"os,omitempty"`
	DeviceIdentity
	ConvTime           *int64          `db:"conv_time" json:"conv_time,omitempty"`
	MatchType          *int            `db:"match_type" json:"match_type,omitempty"`
	OuterEventID       *string         `db:"outer_event_id" json:"outer_event_id,omitempty"`
	OuterEventIdentity *string         `db:"outer_event_identity" json:"outer_event_identity,omitempty"`
	Source             *string         `db:"source" json:"source,omitempty"`
	Props              json.RawMessage `db:"props" json:"props,omitempty"`
	ReplayOf           *int64          `db:"replay_of" json:"replay_of,omitempty"`

	Status           EventStatus `db:"status" json:"status"`
	ProcessingTime   *int        `db:"processing_time" json:"processing_time,omitempty"`
	CallbackResponse *string     `db:"callback_response" json:"callback_response,omitempty"`
	CallbackStatus   *int        `db:"callback_status" json:"callback_status,omitempty"`
	ErrorMessage     *string     `db:"error_message" json:"error_message,omitempty"`

	RequestMethod *string    `db:"request_method" json:"request_method,omitempty"`
	RequestIP     *string    `db:"request_ip" json:"request_ip,omitempty"`
	UserAgent     *string    `db:"user_agent" json:"user_agent,omitempty"`
	ReceivedAt    time.Time  `db:"received_at" json:"received_at"`
	ProcessingAt  *time.Time `db:"processing_at" json:"processing_at,omitempty"`
	ProcessedAt   *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// EventResult is the outcome written by the forwarder.
type EventResult struct {
	Status           EventStatus
	CallbackResponse *string
	CallbackStatus   *int
	ErrorMessage     *string
	ProcessingTime   int
}

// EventStatusCount is a row of the per-status aggregate.
type EventStatusCount struct {
	Status EventStatus `db:"status" json:"status"`
	Count  int         `db:"count" json:"count"`
}
