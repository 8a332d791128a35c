package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dockyard-archive/dockyard/web"
)

const allCollections = "all"

// local@domain.tld, with no whitespace and a single @
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var requiredSearchFields = []string{"query", "name", "email"}

// CollectionFilter is the "databases" member of a search request. On the wire it is either the
// string "all", a single collection name, or a list of collection names.
type CollectionFilter struct {
	All   bool
	Names []Collection

	fromString bool // Sent as a single string, so echo it back as one
}

func (f *CollectionFilter) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = CollectionFilter{fromString: true}
		if s == allCollections {
			f.All = true
		} else {
			f.Names = []Collection{Collection(s)}
		}
		return nil
	}
	var names []Collection
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf(`"databases" must be "all" or a list of database names`)
	}
	*f = CollectionFilter{Names: names}
	return nil
}

func (f CollectionFilter) MarshalJSON() ([]byte, error) {
	if f.All {
		return json.Marshal(allCollections)
	}
	if f.fromString && len(f.Names) == 1 {
		return json.Marshal(f.Names[0])
	}
	if f.Names == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f.Names)
}

// collections returns the list that a Query filters on. Nil means "no filter".
func (f *CollectionFilter) collections() []Collection {
	if f == nil || f.All || len(f.Names) == 0 {
		return nil
	}
	return f.Names
}

// SearchRequest is the body of POST /query
type SearchRequest struct {
	Name           string            `json:"name"`
	Query          string            `json:"query"`
	Email          string            `json:"email"`
	Databases      *CollectionFilter `json:"databases,omitempty"`
	AdditionalInfo string            `json:"additionalInfo,omitempty"`
}

// Query is a validated search, ready to run against a snapshot
type Query struct {
	Text           string
	Collections    []Collection // If empty, then search in all collections
	AdditionalInfo string
}

func (q *Query) String() string {
	s := fmt.Sprintf("%q", q.Text)
	if len(q.Collections) != 0 {
		s += fmt.Sprintf(" in %v", q.Collections)
	}
	if q.AdditionalInfo != "" {
		s += fmt.Sprintf(" +%q", q.AdditionalInfo)
	}
	return s
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func invalidEmailError() *web.Error {
	return web.NewValidationError("Invalid email format", "Please provide a valid email address")
}

// NormalizeSearchRequest validates a search request and shapes it into a Query.
// A malformed email is reported ahead of missing fields. Missing fields are all reported together.
func NormalizeSearchRequest(req *SearchRequest) (*Query, error) {
	if !isBlank(req.Email) && !IsValidEmail(req.Email) {
		return nil, invalidEmailError()
	}

	missing := []string{}
	if isBlank(req.Query) {
		missing = append(missing, "query")
	}
	if isBlank(req.Name) {
		missing = append(missing, "name")
	}
	if isBlank(req.Email) {
		missing = append(missing, "email")
	}
	if len(missing) != 0 {
		err := web.NewValidationError("Missing required fields", "Query, name, and email are required fields")
		err.Required = requiredSearchFields
		err.Missing = missing
		return nil, err
	}

	return &Query{
		Text:           req.Query,
		Collections:    req.Databases.collections(),
		AdditionalInfo: req.AdditionalInfo,
	}, nil
}

// SelectedRecord identifies one record that the user picked out of an earlier search
type SelectedRecord struct {
	ID       RecordID   `json:"id"`
	Database Collection `json:"database"`
}

// SendRequest is the body of POST /send-all-results
type SendRequest struct {
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	SelectedRecords json.RawMessage `json:"selectedRecords"`
}

// NormalizeSendRequest validates a send request, and returns the selection it contains
func NormalizeSendRequest(req *SendRequest) ([]SelectedRecord, error) {
	missingFields := func() error {
		return web.NewValidationError("Missing required fields", "Name, email, and selectedRecords (array) are required")
	}
	if isBlank(req.Name) || isBlank(req.Email) {
		return nil, missingFields()
	}
	raw := bytes.TrimSpace(req.SelectedRecords)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, missingFields()
	}
	selected := []SelectedRecord{}
	if err := json.Unmarshal(raw, &selected); err != nil {
		return nil, web.NewValidationError("Invalid request body", fmt.Sprintf("selectedRecords is malformed: %v", err))
	}
	if len(selected) == 0 {
		return nil, missingFields()
	}
	if !IsValidEmail(req.Email) {
		return nil, invalidEmailError()
	}
	return selected, nil
}
