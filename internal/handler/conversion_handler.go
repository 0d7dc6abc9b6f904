package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/GTDGit/conversion_api/internal/metrics"
	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/internal/service"
	"github.com/GTDGit/conversion_api/internal/utils"
)

// maxBodySize caps inbound conversion payloads (1MB).
const maxBodySize = 1 << 20

const (
	routeCallback = "conversion_callback"
	routeReport   = "openid_report"
)

// ConversionHandler serves the conversion ingest endpoints.
type ConversionHandler struct {
	conversionSvc *service.ConversionService
}

// NewConversionHandler creates a new ConversionHandler.
func NewConversionHandler(conversionSvc *service.ConversionService) *ConversionHandler {
	return &ConversionHandler{conversionSvc: conversionSvc}
}

// ingestData is the data part of an ingest acknowledgement.
type ingestData struct {
	EventID        int64              `json:"event_id"`
	Status         models.EventStatus `json:"status,omitempty"`
	ProcessingTime int                `json:"processing_time"`
	Duplicate      bool               `json:"duplicate,omitempty"`
	ErrorMessage   *string            `json:"error_message,omitempty"`
}

// Callback handles GET|POST /conversion/callback. The click token is the
// "callback" parameter; JSONP is opt-in via format=jsonp&jsonp=<fn>.
func (h *ConversionHandler) Callback(c *gin.Context) {
	query, body, props, err := collectParams(c)
	if err != nil {
		h.respondInvalid(c, routeCallback, "", err)
		return
	}
	params := merge(query, body)

	var jsonpFn string
	if strings.EqualFold(params.Get("format"), "jsonp") {
		jsonpFn = query.Get("jsonp")
	}
	h.ingest(c, routeCallback, params.Get("callback"), params, props, jsonpFn)
}

// Report handles GET|POST /openid/report, the ad-monitoring variant. Here
// the query "callback" names the JSONP function, so the click token comes
// from "click_id" or a body "callback" field.
func (h *ConversionHandler) Report(c *gin.Context) {
	query, body, props, err := collectParams(c)
	jsonpFn := query.Get("callback")
	if err != nil {
		h.respondInvalid(c, routeReport, jsonpFn, err)
		return
	}
	params := merge(query, body)

	click := params.Get("click_id")
	if click == "" {
		click = body.Get("callback")
	}
	h.ingest(c, routeReport, click, params, props, jsonpFn)
}

func (h *ConversionHandler) ingest(c *gin.Context, route, click string, params service.RawParams, props json.RawMessage, jsonpFn string) {
	result, err := h.conversionSvc.Ingest(c.Request.Context(), service.IngestRequest{
		ClickToken:    click,
		Params:        params,
		Props:         props,
		RequestMethod: c.Request.Method,
		RequestIP:     c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
	})
	if err != nil {
		if utils.IsValidationError(err) {
			h.respondInvalid(c, route, jsonpFn, err)
			return
		}
		log.Error().Err(err).Str("request_id", c.GetString("request_id")).Str("route", route).Msg("Conversion ingest failed")
		metrics.EventsTotal.WithLabelValues(route, "error").Inc()
		utils.WriteAck(c, http.StatusInternalServerError, utils.Ack{Code: utils.AckInternalError, Message: "internal error"}, jsonpFn)
		return
	}

	data := ingestData{
		EventID:        result.EventID,
		Status:         result.Status,
		ProcessingTime: result.ProcessingTime,
		Duplicate:      result.Duplicate,
		ErrorMessage:   result.ErrorMessage,
	}

	switch {
	case result.Duplicate:
		metrics.EventsTotal.WithLabelValues(route, "duplicate").Inc()
		log.Info().Int64("event_id", result.EventID).Str("reason", result.Decision.Reason).Msg("Duplicate conversion acknowledged")
		utils.WriteAck(c, http.StatusOK, utils.Ack{Code: utils.AckOK, Message: "success", Data: data}, jsonpFn)
	case result.Status == models.EventStatusSuccess:
		metrics.EventsTotal.WithLabelValues(route, "success").Inc()
		utils.WriteAck(c, http.StatusOK, utils.Ack{Code: utils.AckOK, Message: "success", Data: data}, jsonpFn)
	default:
		metrics.EventsTotal.WithLabelValues(route, "failed").Inc()
		utils.WriteAck(c, http.StatusOK, utils.Ack{Code: utils.AckForwardFailed, Message: "forward failed", Data: data}, jsonpFn)
	}
}

func (h *ConversionHandler) respondInvalid(c *gin.Context, route, jsonpFn string, err error) {
	metrics.EventsTotal.WithLabelValues(route, "invalid").Inc()
	utils.WriteAck(c, http.StatusBadRequest, utils.Ack{Code: utils.AckValidationError, Message: validationMessage(err)}, jsonpFn)
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, utils.ErrMissingCallback):
		return "callback is required"
	case errors.Is(err, utils.ErrMissingEventType):
		return "event_type is required"
	case errors.Is(err, utils.ErrInvalidEventType):
		return "event_type must be a non-negative integer"
	case errors.Is(err, utils.ErrInvalidOuterEventID):
		return "outer_event_id is malformed"
	default:
		return err.Error()
	}
}

var errBadBody = errors.New("malformed request body")

// collectParams returns the query parameters, the body parameters (form or
// JSON) and the props blob, if any.
func collectParams(c *gin.Context) (query, body service.RawParams, props json.RawMessage, err error) {
	query = service.RawParams{}
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	body = service.RawParams{}

	if c.Request.Method == http.MethodPost && c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		ct, _, _ := mime.ParseMediaType(c.ContentType())
		switch ct {
		case "application/json", "text/json":
			props, err = readJSONBody(c.Request.Body, body)
			if err != nil {
				return nil, nil, nil, errBadBody
			}
		case "application/x-www-form-urlencoded", "multipart/form-data":
			if perr := c.Request.ParseMultipartForm(maxBodySize); perr != nil && !errors.Is(perr, http.ErrNotMultipart) {
				return nil, nil, nil, errBadBody
			}
			for k, v := range c.Request.PostForm {
				if len(v) > 0 {
					body[k] = v[0]
				}
			}
		}
	}

	if props == nil {
		if raw := merge(query, body).Get("props"); raw != "" && json.Valid([]byte(raw)) {
			props = json.RawMessage(raw)
		}
	}
	return query, body, props, nil
}

// readJSONBody flattens a JSON object's scalar fields into dst and returns
// the "props" member verbatim.
func readJSONBody(r io.Reader, dst service.RawParams) (json.RawMessage, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	var props json.RawMessage
	for k, v := range fields {
		if k == "props" {
			if trimmed := bytes.TrimSpace(v); len(trimmed) > 0 && trimmed[0] == '{' {
				props = v
				continue
			}
		}
		if s, ok := scalarString(v); ok {
			dst[k] = s
		}
	}
	return props, nil
}

func scalarString(v json.RawMessage) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var x interface{}
	if err := dec.Decode(&x); err != nil {
		return "", false
	}
	switch t := x.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// merge overlays later bags on earlier ones: body wins over query.
func merge(bags ...service.RawParams) service.RawParams {
	out := service.RawParams{}
	for _, b := range bags {
		for k, v := range b {
			out[k] = v
		}
	}
	return out
}
