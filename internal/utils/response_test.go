package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestValidJSONPCallback(t *testing.T) {
	tests := []struct {
		name string
		fn   string
		want bool
	}{
		{"simple", "myFn", true},
		{"namespaced", "jQuery.cb_123", true},
		{"dollar", "$cb", true},
		{"empty", "", false},
		{"leading digit", "1cb", false},
		{"script injection", "alert(1)//", false},
		{"spaces", "my fn", false},
		{"too long", "a1234567890123456789012345678901234567890123456789012345678901234", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidJSONPCallback(tt.fn))
		})
	}
}

func TestWriteAck_JSONP(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	WriteAck(c, http.StatusBadRequest, Ack{Code: AckValidationError, Message: "callback is required"}, "myFn")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/javascript")

	m := regexp.MustCompile(`^myFn\((.*)\)$`).FindStringSubmatch(w.Body.String())
	require.Len(t, m, 2)
	var ack Ack
	require.NoError(t, json.Unmarshal([]byte(m[1]), &ack))
	assert.Equal(t, AckValidationError, ack.Code)
}

func TestWriteAck_InvalidNameFallsBackToJSON(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	WriteAck(c, http.StatusOK, Ack{Code: AckOK, Message: "ok"}, "<script>")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	var ack Ack
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, "ok", ack.Message)
}

func TestSuccessWithPagination(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("request_id", "abcd1234")

	SuccessWithPagination(c, http.StatusOK, "Events retrieved", []int{1, 2}, 2, 10, 25)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "abcd1234", resp.Meta.RequestID)
	require.NotNil(t, resp.Meta.Pagination)
	assert.Equal(t, 3, resp.Meta.Pagination.TotalPages)
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(ErrMissingCallback))
	assert.True(t, IsValidationError(ErrInvalidEventType))
	assert.False(t, IsValidationError(ErrNoActiveToken))
}

func TestWrapJSONP(t *testing.T) {
	assert.Equal(t, `cb({"code":0})`, string(WrapJSONP("cb", []byte(`{"code":0}`))))
}
