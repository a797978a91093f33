package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
)

type sampleBody struct {
	Title string `json:"title" validate:"required"`
	Limit int    `json:"limit" validate:"gte=0,max=10"`
}

func TestDecodeJSONBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"x","limit":3}`))
	var body sampleBody
	require.NoError(t, DecodeJSONBody(req, &body))
	assert.Equal(t, "x", body.Title)
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"x","extra":true}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"limit":50}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)

	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["title"])
	assert.Equal(t, "must be at most 10", details["limit"])
}

func TestDecodeJSONBodyEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	assert.Equal(t, "request body is required", pkgerrors.As(err).Message())
}

func TestParseQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=2&mine=true&q=agent", nil)

	page, err := ParseQueryInt(req, "page", 1, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, page)

	_, err = ParseQueryInt(httptest.NewRequest(http.MethodGet, "/?page=abc", nil), "page", 1, 1, 100)
	require.Error(t, err)

	assert.True(t, ParseQueryBool(req, "mine"))
	assert.False(t, ParseQueryBool(req, "all"))
	assert.Equal(t, "agent", FirstQuery(req, "search", "q"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "héllo", SanitizeString("  héllo world ", 5))
	assert.Equal(t, "abc", SanitizeString(" abc ", 0))

	blank := "   "
	assert.Nil(t, OptionalString(&blank, 10))
	assert.Nil(t, OptionalString(nil, 10))
}
