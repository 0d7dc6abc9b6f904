package adplatform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server, timeout time.Duration) *Client {
	return NewClient(Config{
		ReportURL:  srv.URL + "/conv/report?v=2",
		RefreshURL: srv.URL + "/oauth/refresh",
		AppID:      "1001",
		AppSecret:  "s3cr3t",
		Timeout:    timeout,
	}, nil)
}

func TestReport_SendsTokenAndPayload(t *testing.T) {
	var got ConversionReport
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/conv/report", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("v"))
		assert.Equal(t, "tok-1", r.URL.Query().Get("access_token"))
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"code":0,"message":"ok","data":{}}`))
	}))
	defer srv.Close()

	conv := int64(1760000000)
	res, err := newTestClient(srv, time.Second).Report(context.Background(), "tok-1", &ConversionReport{
		Callback:  "abc123",
		EventType: 1,
		IMEI:      "d41d8cd98f00b204e9800998ecf8427e",
		ConvTime:  &conv,
		Props:     json.RawMessage(`{"level":3}`),
	})
	require.NoError(t, err)

	assert.True(t, res.Accepted())
	assert.Equal(t, "abc123", got.Callback)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", got.IMEI)
	assert.Equal(t, conv, *got.ConvTime)
	assert.JSONEq(t, `{"level":3}`, string(got.Props))
}

func TestReport_RejectionIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":40012,"message":"invalid callback"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv, time.Second).Report(context.Background(), "tok", &ConversionReport{Callback: "x"})
	require.NoError(t, err)
	assert.False(t, res.Accepted())
	require.NotNil(t, res.Envelope)
	assert.Equal(t, "invalid callback", res.Envelope.Message)
}

func TestReport_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	res, err := newTestClient(srv, time.Second).Report(context.Background(), "tok", &ConversionReport{Callback: "x"})
	require.NoError(t, err)
	assert.Nil(t, res.Envelope)
	assert.Equal(t, http.StatusBadGateway, res.HTTPStatus)
	assert.Equal(t, "upstream down", res.Body)
	assert.False(t, res.Accepted())
}

func TestReport_EnvelopeRequiresCode(t *testing.T) {
	tests := []struct {
		body     string
		accepted bool
	}{
		{`{"code":0,"message":"OK"}`, true},
		{`{}`, false},
		{`null`, false},
		{`{"message":"OK"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res, err := newTestClient(srv, time.Second).Report(context.Background(), "tok", &ConversionReport{Callback: "x"})
			require.NoError(t, err)
			assert.Equal(t, tt.accepted, res.Accepted())
			assert.Equal(t, tt.accepted, res.Envelope != nil)
		})
	}
}

func TestReport_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 50*time.Millisecond).Report(context.Background(), "tok", &ConversionReport{Callback: "x"})
	require.Error(t, err)
}

func TestRefresh_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RefreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "1001", req.AppID)
		assert.Equal(t, "1001", req.AppIDCompat)
		assert.Equal(t, "s3cr3t", req.Secret)
		assert.Equal(t, "refresh-old", req.RefreshToken)
		assert.Equal(t, "refresh_token", req.GrantType)
		_, _ = w.Write([]byte(`{"code":0,"data":{"access_token":"a2","refresh_token":"r2","expires_in":86400}}`))
	}))
	defer srv.Close()

	data, err := newTestClient(srv, time.Second).Refresh(context.Background(), "refresh-old")
	require.NoError(t, err)
	assert.Equal(t, "a2", data.AccessToken)
	assert.Equal(t, "r2", data.RefreshToken)
	assert.Equal(t, 86400, data.ExpiresIn)
}

func TestRefresh_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non-zero code", http.StatusOK, `{"code":11002,"message":"refresh_token expired"}`},
		{"http error", http.StatusInternalServerError, `oops`},
		{"missing tokens", http.StatusOK, `{"code":0,"data":{"access_token":""}}`},
		{"missing code", http.StatusOK, `{"data":{"access_token":"a","refresh_token":"r"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv, time.Second).Refresh(context.Background(), "r")
			require.Error(t, err)
			var apiErr *APIError
			assert.True(t, errors.As(err, &apiErr))
		})
	}
}
