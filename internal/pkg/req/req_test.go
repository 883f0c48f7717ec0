package req

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globetrotter/internal/pkg/errs"
)

type guess struct {
	Guess string `json:"guess"`
}

func request(contentType, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/game/answer", strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return r
}

func TestBindJSON(t *testing.T) {
	var dst guess
	require.Nil(t, BindJSON(request("application/json; charset=utf-8", `{"guess":"Paris"}`), &dst))
	assert.Equal(t, "Paris", dst.Guess)
}

func TestBindJSONRejects(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		code        int
	}{
		{"form body", "application/x-www-form-urlencoded", "guess=Paris", errs.ErrUnsupportedMediaType},
		{"no content type", "", `{"guess":"Paris"}`, errs.ErrUnsupportedMediaType},
		{"malformed", "application/json", `{"guess":`, errs.ErrInvalidJSONFormat},
		{"unknown field", "application/json", `{"guess":"Paris","city":"Paris"}`, errs.ErrInvalidJSONFormat},
		{"trailing object", "application/json", `{"guess":"Paris"}{"guess":"Rome"}`, errs.ErrExtraContentInBody},
		{"too large", "application/json", `{"guess":"` + strings.Repeat("a", int(MaxJSONBodySize)) + `"}`, errs.ErrInvalidJSONFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst guess
			customErr := BindJSON(request(tt.contentType, tt.body), &dst)
			require.NotNil(t, customErr)
			assert.Equal(t, tt.code, customErr.Code)
		})
	}
}
