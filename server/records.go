package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Collection names one of the three archive collections. The name is also the tag that every
// record carries on the wire, in its "database" field.
type Collection string

const (
	DockingRegister  Collection = "dockingRegister"
	TridentNewspaper Collection = "tridentNewspaper"
	RatebookRecords  Collection = "ratebookRecords"
)

// Collections lists every collection, in snapshot order.
var Collections = []Collection{DockingRegister, TridentNewspaper, RatebookRecords}

func (c Collection) IsValid() bool {
	switch c {
	case DockingRegister, TridentNewspaper, RatebookRecords:
		return true
	}
	return false
}

// RecordID is unique within a collection, but not across collections. Source documents use both
// JSON strings and JSON numbers for ids, so we keep the textual form for comparison, and remember
// which form to send back.
type RecordID struct {
	text    string
	numeric bool
}

func NewRecordID(text string) RecordID {
	return RecordID{text: text}
}

func (id RecordID) String() string { return id.text }
func (id RecordID) IsZero() bool   { return id.text == "" }

func (id RecordID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.text), nil
	}
	return json.Marshal(id.text)
}

func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = RecordID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RecordID{text: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("Record id must be a string or a number: %v", err)
	}
	*id = RecordID{text: n.String(), numeric: true}
	return nil
}

// (id, collection) is the identity of a record inside a snapshot
type recordKey struct {
	collection Collection
	id         string
}

func keyOf(r Record) recordKey {
	return recordKey{collection: r.Collection(), id: r.RecordID().String()}
}

// Record is implemented by *DockingRegisterRecord, *TridentNewspaperRecord and *RatebookRecord,
// and by nothing else. Every field of every record is optional; legacy scanned records are often
// sparse.
type Record interface {
	RecordID() RecordID
	Collection() Collection

	// Fields compared against the primary query
	primaryFields() []field
	// Fields compared against "additional info"
	fuzzyFields() []field
	// Weighted fields that make up the relevance score
	scoreRules() []scoreRule
	// One line description, used when mailing records
	summary() recordSummary

	setUnmodelled(members map[string]json.RawMessage)
}

type recordSummary struct {
	Collection Collection
	Title      string
	Kind       string
	Group      string
	Date       string
	Notes      string
}

// Text is a scalar member of a source document. Transcribers typed years, ledger numbers and
// issue numbers as either strings or numbers, so both are read as text. A member that holds
// anything else is kept for the response, but has no text and never matches.
type Text struct {
	text  string
	valid bool
	raw   json.RawMessage
}

func NewText(s string) *Text {
	return &Text{text: s, valid: true}
}

func (t Text) String() string { return t.text }

func (t Text) MarshalJSON() ([]byte, error) {
	if t.raw != nil {
		return t.raw, nil
	}
	return json.Marshal(t.text)
}

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*t = Text{raw: append(json.RawMessage(nil), data...)}
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		if err := json.Unmarshal(data, &t.text); err != nil {
			return err
		}
		t.valid = true
	case '{', '[', 'n':
	default:
		// Numbers and booleans, exactly as written
		t.text = string(data)
		t.valid = true
	}
	return nil
}

// TextList is a list member, such as skills or mentions. A lone scalar is read as a list of one.
type TextList []Text

func NewTextList(items ...string) TextList {
	list := TextList{}
	for _, s := range items {
		list = append(list, *NewText(s))
	}
	return list
}

func (l *TextList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		var t Text
		if err := t.UnmarshalJSON(data); err != nil {
			return err
		}
		*l = nil
		if t.valid {
			*l = TextList{t}
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*l = make(TextList, len(items))
	for i, item := range items {
		if err := (*l)[i].UnmarshalJSON(item); err != nil {
			return err
		}
	}
	return nil
}

// field is the value of one record field, as seen by the matcher. A field that is absent from
// the record has no values, and so can never match.
type field struct {
	values []string
	raw    bool // Compare against the field exactly as stored, instead of lowercased
}

func textField(t *Text) field {
	if t == nil || !t.valid {
		return field{}
	}
	return field{values: []string{t.text}}
}

// rawField is for dates and ledger numbers, which are compared without case folding.
func rawField(t *Text) field {
	f := textField(t)
	f.raw = true
	return f
}

func listField(items TextList) field {
	f := field{}
	for _, t := range items {
		if t.valid {
			f.values = append(f.values, t.text)
		}
	}
	return f
}

// contains reports whether any value of the field contains needle, which must already be lowercase.
func (f field) contains(needle string) bool {
	for _, v := range f.values {
		if !f.raw {
			v = strings.ToLower(v)
		}
		if strings.Contains(v, needle) {
			return true
		}
	}
	return false
}

type scoreRule struct {
	field  field
	weight int
}

func firstOf(values ...*Text) string {
	for _, v := range values {
		if v != nil && v.valid && v.text != "" {
			return v.text
		}
	}
	return "-"
}

// unmodelled holds the members of a source document that no record field describes, such as a
// storage id. They are sent back out with the record.
type unmodelled struct {
	members map[string]json.RawMessage
}

func (u *unmodelled) setUnmodelled(members map[string]json.RawMessage) {
	u.members = members
}

// withUnmodelled adds the unmodelled members to the encoded record doc
func (u *unmodelled) withUnmodelled(doc []byte) ([]byte, error) {
	if len(u.members) == 0 {
		return doc, nil
	}
	all := map[string]json.RawMessage{}
	if err := json.Unmarshal(doc, &all); err != nil {
		return nil, err
	}
	for k, v := range u.members {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// DockingRegisterRecord is a personnel entry from the docking register
type DockingRegisterRecord struct {
	unmodelled
	ID                 RecordID `json:"id"`
	Name               *Text    `json:"name,omitempty"`
	Craft              *Text    `json:"craft,omitempty"`
	Department         *Text    `json:"department,omitempty"`
	Notes              *Text    `json:"notes,omitempty"`
	EntryNumber        *Text    `json:"entryNumber,omitempty"`
	Skills             TextList `json:"skills,omitempty"`
	Supervisors        TextList `json:"supervisors,omitempty"`
	Address            *Text    `json:"address,omitempty"`
	DateOfBirth        *Text    `json:"dateOfBirth,omitempty"`
	ApprenticeshipYear *Text    `json:"apprenticeshipYear,omitempty"`
	StartDate          *Text    `json:"startDate,omitempty"`
	EndDate            *Text    `json:"endDate,omitempty"`
}

func (r *DockingRegisterRecord) RecordID() RecordID     { return r.ID }
func (r *DockingRegisterRecord) Collection() Collection { return DockingRegister }

func (r *DockingRegisterRecord) primaryFields() []field {
	return []field{
		textField(r.Name),
		textField(r.Craft),
		textField(r.Department),
		textField(r.Notes),
		textField(r.EntryNumber),
		listField(r.Skills),
		listField(r.Supervisors),
		textField(r.Address),
	}
}

func (r *DockingRegisterRecord) fuzzyFields() []field {
	return []field{
		rawField(r.DateOfBirth),
		rawField(r.ApprenticeshipYear),
		rawField(r.StartDate),
		rawField(r.EndDate),
		textField(r.Address),
	}
}

func (r *DockingRegisterRecord) scoreRules() []scoreRule {
	return []scoreRule{
		{textField(r.Name), 15},
		{textField(r.EntryNumber), 12},
		{textField(r.Craft), 8},
		{textField(r.Department), 5},
	}
}

func (r *DockingRegisterRecord) summary() recordSummary {
	return recordSummary{
		Collection: DockingRegister,
		Title:      firstOf(r.Name),
		Kind:       firstOf(r.Craft),
		Group:      firstOf(r.Department),
		Date:       firstOf(r.DateOfBirth),
		Notes:      firstOf(r.Notes),
	}
}

func (r *DockingRegisterRecord) MarshalJSON() ([]byte, error) {
	type plain DockingRegisterRecord
	doc, err := json.Marshal(&struct {
		*plain
		Database Collection `json:"database"`
	}{(*plain)(r), DockingRegister})
	if err != nil {
		return nil, err
	}
	return r.withUnmodelled(doc)
}

// TridentNewspaperRecord is an article from the Trident, the dockyard newspaper
type TridentNewspaperRecord struct {
	unmodelled
	ID           RecordID        `json:"id"`
	Name         *Text           `json:"name,omitempty"`
	Headline     *Text           `json:"headline,omitempty"`
	Content      *Text           `json:"content,omitempty"`
	Mentions     TextList        `json:"mentions,omitempty"`
	Category     *Text           `json:"category,omitempty"`
	IssueNumber  *Text           `json:"issueNumber,omitempty"`
	Date         *Text           `json:"date,omitempty"`
	Page         json.RawMessage `json:"page,omitempty"`
	Photographer *Text           `json:"photographer,omitempty"`
}

func (r *TridentNewspaperRecord) RecordID() RecordID     { return r.ID }
func (r *TridentNewspaperRecord) Collection() Collection { return TridentNewspaper }

func (r *TridentNewspaperRecord) primaryFields() []field {
	return []field{
		textField(r.Name),
		textField(r.Headline),
		textField(r.Content),
		listField(r.Mentions),
		textField(r.Category),
		textField(r.IssueNumber),
	}
}

func (r *TridentNewspaperRecord) fuzzyFields() []field {
	return []field{
		rawField(r.Date),
		textField(r.Content),
	}
}

func (r *TridentNewspaperRecord) scoreRules() []scoreRule {
	return []scoreRule{
		{textField(r.Name), 15},
		{listField(r.Mentions), 12},
		{textField(r.Headline), 10},
		{textField(r.Content), 6},
	}
}

func (r *TridentNewspaperRecord) summary() recordSummary {
	return recordSummary{
		Collection: TridentNewspaper,
		Title:      firstOf(r.Name, r.Headline),
		Kind:       "-",
		Group:      firstOf(r.Category),
		Date:       firstOf(r.Date),
		Notes:      firstOf(r.Content),
	}
}

func (r *TridentNewspaperRecord) MarshalJSON() ([]byte, error) {
	type plain TridentNewspaperRecord
	doc, err := json.Marshal(&struct {
		*plain
		Database Collection `json:"database"`
	}{(*plain)(r), TridentNewspaper})
	if err != nil {
		return nil, err
	}
	return r.withUnmodelled(doc)
}

// RatebookRecord is one weekly line of the wage ledgers. The money and hours columns are kept
// exactly as they were transcribed, which is sometimes a number and sometimes pre-decimal text.
type RatebookRecord struct {
	unmodelled
	ID             RecordID        `json:"id"`
	Name           *Text           `json:"name,omitempty"`
	EmployeeNumber *Text           `json:"employeeNumber,omitempty"`
	Craft          *Text           `json:"craft,omitempty"`
	Department     *Text           `json:"department,omitempty"`
	Foreman        *Text           `json:"foreman,omitempty"`
	BookNumber     *Text           `json:"bookNumber,omitempty"`
	WeekEnding     *Text           `json:"weekEnding,omitempty"`
	StandardRate   json.RawMessage `json:"standardRate,omitempty"`
	HoursWorked    json.RawMessage `json:"hoursWorked,omitempty"`
	OvertimeHours  json.RawMessage `json:"overtimeHours,omitempty"`
	OvertimeRate   json.RawMessage `json:"overtimeRate,omitempty"`
	TotalWages     json.RawMessage `json:"totalWages,omitempty"`
	Deductions     json.RawMessage `json:"deductions,omitempty"`
	NetPay         json.RawMessage `json:"netPay,omitempty"`
	PageNumber     json.RawMessage `json:"pageNumber,omitempty"`
}

func (r *RatebookRecord) RecordID() RecordID     { return r.ID }
func (r *RatebookRecord) Collection() Collection { return RatebookRecords }

func (r *RatebookRecord) primaryFields() []field {
	return []field{
		textField(r.Name),
		textField(r.Craft),
		textField(r.EmployeeNumber),
		textField(r.Department),
		textField(r.Foreman),
		textField(r.BookNumber),
	}
}

func (r *RatebookRecord) fuzzyFields() []field {
	return []field{
		rawField(r.WeekEnding),
		rawField(r.EmployeeNumber),
	}
}

func (r *RatebookRecord) scoreRules() []scoreRule {
	return []scoreRule{
		{textField(r.Name), 15},
		{textField(r.EmployeeNumber), 12},
		{textField(r.Craft), 8},
		{textField(r.Foreman), 5},
	}
}

func (r *RatebookRecord) summary() recordSummary {
	return recordSummary{
		Collection: RatebookRecords,
		Title:      firstOf(r.Name, r.EmployeeNumber),
		Kind:       firstOf(r.Craft),
		Group:      firstOf(r.Department),
		Date:       firstOf(r.WeekEnding),
		Notes:      "-",
	}
}

func (r *RatebookRecord) MarshalJSON() ([]byte, error) {
	type plain RatebookRecord
	doc, err := json.Marshal(&struct {
		*plain
		Database Collection `json:"database"`
	}{(*plain)(r), RatebookRecords})
	if err != nil {
		return nil, err
	}
	return r.withUnmodelled(doc)
}

// decodeRecord interprets a stored document as a record of collection c. Any "database" field in
// the document is ignored; the collection it was loaded from is authoritative.
func decodeRecord(c Collection, doc []byte) (Record, error) {
	var r Record
	switch c {
	case DockingRegister:
		r = &DockingRegisterRecord{}
	case TridentNewspaper:
		r = &TridentNewspaperRecord{}
	case RatebookRecords:
		r = &RatebookRecord{}
	default:
		return nil, fmt.Errorf("%v: %v", errUnknownCollection, c)
	}
	if err := json.Unmarshal(doc, r); err != nil {
		return nil, err
	}

	// Whatever the typed record does not write back out is unmodelled
	members := map[string]json.RawMessage{}
	if err := json.Unmarshal(doc, &members); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	modelled := map[string]json.RawMessage{}
	if err := json.Unmarshal(encoded, &modelled); err != nil {
		return nil, err
	}
	extra := map[string]json.RawMessage{}
	for k, v := range members {
		if _, ok := modelled[k]; !ok && k != "database" {
			extra[k] = v
		}
	}
	r.setUnmodelled(extra)
	return r, nil
}

// Title is the human name of a record: a person's name, or failing that a headline or ledger number.
func Title(r Record) string {
	return r.summary().Title
}
