package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/IMQS/log"
	"github.com/dockyard-archive/dockyard/config"
	"github.com/stretchr/testify/require"
)

func str(s string) *Text {
	return NewText(s)
}

func docking(id string, name, craft string) *DockingRegisterRecord {
	r := &DockingRegisterRecord{ID: NewRecordID(id)}
	if name != "" {
		r.Name = str(name)
	}
	if craft != "" {
		r.Craft = str(craft)
	}
	return r
}

func trident(id string, headline string) *TridentNewspaperRecord {
	r := &TridentNewspaperRecord{ID: NewRecordID(id)}
	if headline != "" {
		r.Headline = str(headline)
	}
	return r
}

func ratebook(id string, name, employeeNumber string) *RatebookRecord {
	r := &RatebookRecord{ID: NewRecordID(id)}
	if name != "" {
		r.Name = str(name)
	}
	if employeeNumber != "" {
		r.EmployeeNumber = str(employeeNumber)
	}
	return r
}

// fakeSource serves canned documents, or fails
type fakeSource struct {
	lock  sync.Mutex
	docs  map[string][]string
	err   error
	calls int
}

func (s *fakeSource) LoadCollection(ctx context.Context, collection string) ([]json.RawMessage, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	raw := []json.RawMessage{}
	for _, d := range s.docs[collection] {
		raw = append(raw, json.RawMessage(d))
	}
	return raw, nil
}

func (s *fakeSource) set(docs map[string][]string, err error) {
	s.lock.Lock()
	s.docs = docs
	s.err = err
	s.lock.Unlock()
}

type sentMail struct {
	to      string
	subject string
	html    string
}

type fakeMailer struct {
	lock sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, html string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, html})
	return nil
}

var errConnectionLost = errors.New("connection lost")

// newTestEngine returns an engine with no snapshot loaded
func newTestEngine(t *testing.T, source Source) (*Engine, *fakeMailer) {
	cfg := &config.Config{}
	require.NoError(t, cfg.LoadString(`{"Database": {"LoadTimeoutSeconds": 5}}`))
	mailer := &fakeMailer{}
	e := &Engine{
		Config:    cfg,
		Source:    source,
		Mailer:    mailer,
		ErrorLog:  log.New(log.Stdout, false),
		AccessLog: log.New(log.Stdout, false),
	}
	require.NoError(t, e.Initialize())
	return e, mailer
}

// newLoadedEngine returns an engine serving a snapshot of records
func newLoadedEngine(t *testing.T, records ...Record) (*Engine, *fakeMailer) {
	e, mailer := newTestEngine(t, &fakeSource{})
	e.SetSnapshot(NewSnapshot(records...))
	return e, mailer
}

// smithSnapshot holds one record that matches "smith" in each collection, plus some that don't
func smithSnapshot() *Snapshot {
	return NewSnapshot(
		docking("1", "John Smith", "Shipwright"),
		docking("2", "Albert Jones", "Rigger"),
		trident("1", "Local Smith Wins Award"),
		trident("2", "Launch of HMS Dreadnought"),
		ratebook("1", "W. Blacksmith", "E-1044"),
		ratebook("2", "H. Cooper", "E-2001"),
	)
}

func rowKeys(rows []*FindResultRow) []string {
	keys := []string{}
	for _, row := range rows {
		keys = append(keys, string(row.Record.Collection())+"/"+row.Record.RecordID().String())
	}
	return keys
}
