package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/babylonsim/babylond/internal/domain"
)

func TestParseListOpts(t *testing.T) {
	cases := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 50, 0},
		{"explicit", "?limit=20&offset=40", 20, 40},
		{"limit capped", "?limit=9999", 500, 0},
		{"zero limit ignored", "?limit=0", 50, 0},
		{"negative offset ignored", "?offset=-3", 50, 0},
		{"garbage ignored", "?limit=abc&offset=xyz", 50, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/markets"+tc.query, nil)
			opts := parseListOpts(req)
			assert.Equal(t, tc.wantLimit, opts.Limit)
			assert.Equal(t, tc.wantOffset, opts.Offset)
		})
	}
}

func TestWriteDomainError_UnmappedError(t *testing.T) {
	rec := httptest.NewRecorder()
	handled := writeDomainError(rec, assert.AnError)
	assert.False(t, handled, "unknown errors are left to the caller")
}

func TestWriteDomainError_Mapped(t *testing.T) {
	rec := httptest.NewRecorder()
	handled := writeDomainError(rec, domain.ErrAlreadyExists)
	assert.True(t, handled)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"already exists"}`, rec.Body.String())
}
