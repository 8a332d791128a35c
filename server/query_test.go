package server

import (
	"encoding/json"
	"testing"

	"github.com/dockyard-archive/dockyard/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifyValidationError(t *testing.T, err error, tag string) *web.Error {
	t.Helper()
	require.Error(t, err)
	verr, ok := err.(*web.Error)
	require.True(t, ok, "Expected *web.Error, but got %T", err)
	assert.Equal(t, web.KindValidation, verr.Kind)
	assert.Equal(t, tag, verr.Tag)
	return verr
}

func TestIsValidEmail(t *testing.T) {
	valid := []string{"a@b.co", "john.smith@dockyard.org.uk", "x+y@z.io"}
	invalid := []string{"", "not-an-email", "a@b", "@b.co", "a b@c.de", "a@b.", "a@@b.co"}
	for _, e := range valid {
		assert.True(t, IsValidEmail(e), e)
	}
	for _, e := range invalid {
		assert.False(t, IsValidEmail(e), e)
	}
}

func TestNormalizeSearchRequest(t *testing.T) {
	q, err := NormalizeSearchRequest(&SearchRequest{Name: "Ann", Email: "ann@example.com", Query: "Smith", AdditionalInfo: "1891"})
	require.NoError(t, err)
	assert.Equal(t, "Smith", q.Text)
	assert.Nil(t, q.Collections)
	assert.Equal(t, "1891", q.AdditionalInfo)
}

func TestNormalizeSearchRequestMissingFields(t *testing.T) {
	_, err := NormalizeSearchRequest(&SearchRequest{})
	verr := verifyValidationError(t, err, "Missing required fields")
	assert.Equal(t, "Query, name, and email are required fields", verr.Message)
	assert.Equal(t, []string{"query", "name", "email"}, verr.Required)
	assert.Equal(t, []string{"query", "name", "email"}, verr.Missing)

	_, err = NormalizeSearchRequest(&SearchRequest{Query: "smith", Name: "  ", Email: "ann@example.com"})
	verr = verifyValidationError(t, err, "Missing required fields")
	assert.Equal(t, []string{"name"}, verr.Missing)
}

func TestNormalizeSearchRequestInvalidEmail(t *testing.T) {
	// A malformed email wins over missing fields
	_, err := NormalizeSearchRequest(&SearchRequest{Query: "", Name: "Ann", Email: "not-an-email"})
	verr := verifyValidationError(t, err, "Invalid email format")
	assert.Equal(t, "Please provide a valid email address", verr.Message)
}

func TestCollectionFilter(t *testing.T) {
	parse := func(body string) *SearchRequest {
		req := &SearchRequest{}
		require.NoError(t, json.Unmarshal([]byte(body), req))
		return req
	}

	assert.Nil(t, parse(`{}`).Databases.collections())
	assert.Nil(t, parse(`{"databases": "all"}`).Databases.collections())
	assert.Nil(t, parse(`{"databases": []}`).Databases.collections())
	assert.Equal(t, []Collection{TridentNewspaper}, parse(`{"databases": "tridentNewspaper"}`).Databases.collections())
	assert.Equal(t, []Collection{DockingRegister, RatebookRecords},
		parse(`{"databases": ["dockingRegister", "ratebookRecords"]}`).Databases.collections())

	req := &SearchRequest{}
	assert.Error(t, json.Unmarshal([]byte(`{"databases": 12}`), req))

	// Filters are echoed back the way they were sent
	for _, body := range []string{`"all"`, `"ratebookRecords"`, `["dockingRegister"]`, `[]`} {
		f := &CollectionFilter{}
		require.NoError(t, json.Unmarshal([]byte(body), f))
		raw, err := json.Marshal(f)
		require.NoError(t, err)
		assert.JSONEq(t, body, string(raw))
	}
}

func TestNormalizeSendRequest(t *testing.T) {
	parse := func(body string) *SendRequest {
		req := &SendRequest{}
		require.NoError(t, json.Unmarshal([]byte(body), req))
		return req
	}

	sel, err := NormalizeSendRequest(parse(`{"name": "Ann", "email": "ann@example.com",
		"selectedRecords": [{"id": 12, "database": "ratebookRecords"}, {"id": "d-1", "database": "dockingRegister"}]}`))
	require.NoError(t, err)
	require.Len(t, sel, 2)
	assert.Equal(t, "12", sel[0].ID.String())
	assert.Equal(t, RatebookRecords, sel[0].Database)
	assert.Equal(t, "d-1", sel[1].ID.String())

	missing := []string{
		`{"email": "ann@example.com", "selectedRecords": [{"id": 1, "database": "ratebookRecords"}]}`,
		`{"name": "Ann", "selectedRecords": [{"id": 1, "database": "ratebookRecords"}]}`,
		`{"name": "Ann", "email": "ann@example.com"}`,
		`{"name": "Ann", "email": "ann@example.com", "selectedRecords": []}`,
		`{"name": "Ann", "email": "ann@example.com", "selectedRecords": {"id": 1}}`,
	}
	for _, body := range missing {
		_, err := NormalizeSendRequest(parse(body))
		verr := verifyValidationError(t, err, "Missing required fields")
		assert.Equal(t, "Name, email, and selectedRecords (array) are required", verr.Message)
	}

	_, err = NormalizeSendRequest(parse(`{"name": "Ann", "email": "ann", "selectedRecords": [{"id": 1, "database": "ratebookRecords"}]}`))
	verifyValidationError(t, err, "Invalid email format")

	_, err = NormalizeSendRequest(parse(`{"name": "Ann", "email": "ann@example.com", "selectedRecords": [{"id": true}]}`))
	verifyValidationError(t, err, "Invalid request body")
}
