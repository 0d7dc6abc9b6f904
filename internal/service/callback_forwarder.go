package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/conversion_api/internal/metrics"
	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/pkg/adplatform"
)

const (
	errNoAccessToken        = "no active access token"
	errUnrecognisedResponse = "unrecognised upstream response"
)

// Reporter sends one S2S conversion report. *adplatform.Client satisfies it.
type Reporter interface {
	Report(ctx context.Context, accessToken string, report *adplatform.ConversionReport) (*adplatform.ReportResult, error)
}

// TokenSource hands out the current access token. *TokenManager satisfies it.
type TokenSource interface {
	AccessToken() (string, error)
}

// ForwardResult is the outcome of a single forwarding attempt.
type ForwardResult struct {
	Status           models.EventStatus
	CallbackResponse *string
	CallbackStatus   *int
	ErrorMessage     *string
}

// CallbackForwarder reports stored events to the ad platform. It makes
// exactly one outbound call per event and never retries.
type CallbackForwarder struct {
	reporter Reporter
	tokens   TokenSource
}

// NewCallbackForwarder creates a new CallbackForwarder.
func NewCallbackForwarder(reporter Reporter, tokens TokenSource) *CallbackForwarder {
	return &CallbackForwarder{reporter: reporter, tokens: tokens}
}

// Forward reports ev using whatever access token is active right now, even
// a stale one. The result is always success or failed.
func (f *CallbackForwarder) Forward(ctx context.Context, ev *models.ConversionEvent) ForwardResult {
	token, err := f.tokens.AccessToken()
	if err != nil || token == "" {
		return f.finish(ev, failed(errNoAccessToken))
	}

	start := time.Now()
	res, err := f.reporter.Report(ctx, token, buildReport(ev))
	metrics.ForwardDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return f.finish(ev, failed(err.Error()))
	}

	out := ForwardResult{CallbackStatus: &res.HTTPStatus}
	if res.Body != "" {
		body := res.Body
		out.CallbackResponse = &body
	}

	switch {
	case res.Accepted():
		out.Status = models.EventStatusSuccess
	case res.HTTPStatus < 200 || res.HTTPStatus >= 300:
		msg := res.Body
		if msg == "" {
			msg = fmt.Sprintf("upstream http %d %s", res.HTTPStatus, http.StatusText(res.HTTPStatus))
		}
		out.Status = models.EventStatusFailed
		out.ErrorMessage = &msg
	case res.Envelope == nil:
		msg := errUnrecognisedResponse
		out.Status = models.EventStatusFailed
		out.ErrorMessage = &msg
	default:
		msg := res.Envelope.Message
		if msg == "" {
			msg = fmt.Sprintf("upstream code %d", res.Envelope.Code)
		}
		out.Status = models.EventStatusFailed
		out.ErrorMessage = &msg
	}
	return f.finish(ev, out)
}

func (f *CallbackForwarder) finish(ev *models.ConversionEvent, out ForwardResult) ForwardResult {
	metrics.ForwardTotal.WithLabelValues(string(out.Status)).Inc()

	if out.Status == models.EventStatusFailed {
		evt := log.Warn().Int64("event_id", ev.ID).Int("event_type", ev.EventType)
		if out.CallbackStatus != nil {
			evt = evt.Int("http_status", *out.CallbackStatus)
		}
		if out.ErrorMessage != nil {
			evt = evt.Str("error", *out.ErrorMessage)
		}
		evt.Msg("Conversion forward failed")
	}
	return out
}

func failed(msg string) ForwardResult {
	return ForwardResult{Status: models.EventStatusFailed, ErrorMessage: &msg}
}

func buildReport(ev *models.ConversionEvent) *adplatform.ConversionReport {
	return &adplatform.ConversionReport{
		Callback:     ev.Callback,
		EventType:    ev.EventType,
		EventName:    deref(ev.EventName),
		OS:           ev.OS,
		IDFA:         deref(ev.IDFA),
		IMEI:         deref(ev.IMEI),
		OAID:         deref(ev.OAID),
		OAIDMD5:      deref(ev.OAIDMD5),
		MUID:         deref(ev.MUID),
		CAID1:        deref(ev.CAID1),
		CAID2:        deref(ev.CAID2),
		AndroidID:    deref(ev.AndroidID),
		IDFV:         deref(ev.IDFV),
		ConvTime:     ev.ConvTime,
		MatchType:    ev.MatchType,
		OuterEventID: deref(ev.OuterEventID),
		Props:        ev.Props,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
