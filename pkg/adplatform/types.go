package adplatform

import (
	"encoding/json"
	"fmt"
)

// ConversionReport is the S2S conversion payload posted to the report URL.
type ConversionReport struct {
	Callback     string          `json:"callback"`
	EventType    int             `json:"event_type"`
	EventName    string          `json:"event_name,omitempty"`
	OS           *int            `json:"os,omitempty"`
	IDFA         string          `json:"idfa,omitempty"`
	IMEI         string          `json:"imei,omitempty"`
	OAID         string          `json:"oaid,omitempty"`
	OAIDMD5      string          `json:"oaid_md5,omitempty"`
	MUID         string          `json:"muid,omitempty"`
	CAID1        string          `json:"caid1,omitempty"`
	CAID2        string          `json:"caid2,omitempty"`
	AndroidID    string          `json:"android_id,omitempty"`
	IDFV         string          `json:"idfv,omitempty"`
	ConvTime     *int64          `json:"conv_time,omitempty"`
	MatchType    *int            `json:"match_type,omitempty"`
	OuterEventID string          `json:"outer_event_id,omitempty"`
	Props        json.RawMessage `json:"props,omitempty"`
}

// Envelope is the common {code, message, data} body returned by the platform.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ReportResult captures what the platform answered to a conversion report.
// Body is kept verbatim for auditing.
type ReportResult struct {
	HTTPStatus int
	Body       string
	// Envelope is nil when the body is not a JSON object with a code.
	Envelope *Envelope
}

// Accepted reports whether the platform acknowledged the conversion: a 2xx
// status and an envelope with code 0.
func (r *ReportResult) Accepted() bool {
	return r.HTTPStatus >= 200 && r.HTTPStatus < 300 && r.Envelope != nil && r.Envelope.Code == 0
}

// RefreshRequest is the OAuth-style refresh body. Both app_id and appid are
// sent because the platform has accepted either spelling over time.
type RefreshRequest struct {
	AppID        string `json:"app_id"`
	AppIDCompat  string `json:"appid"`
	Secret       string `json:"secret"`
	RefreshToken string `json:"refresh_token"`
	GrantType    string `json:"grant_type"`
}

// RefreshData is the data part of a successful refresh response.
type RefreshData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// APIError is returned when the platform answers with a non-zero code or a
// non-2xx status.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ad platform error (http %d, code %d): %s", e.HTTPStatus, e.Code, e.Message)
}
