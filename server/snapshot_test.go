package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dockyard-archive/dockyard/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func archiveDocs() map[string][]string {
	return map[string][]string{
		"dockingRegister": {
			`{"id": "d1", "name": "John Smith", "craft": "Shipwright", "skills": ["Caulking"]}`,
			`{"id": 2, "name": "Albert Jones", "database": "somethingElse"}`,
			`{"name": "No id at all"}`,
			`{"id": "d1", "name": "Duplicate of John"}`,
			`{"id": {"$oid": "d3"}, "name": "Unusable id"}`,
		},
		"tridentNewspaper": {
			`{"id": 1, "headline": "Local Smith Wins Award", "page": 4}`,
		},
		"ratebookRecords": {
			`{"id": 1, "name": "W. Blacksmith", "standardRate": "£1 2s 6d", "hoursWorked": 47.5}`,
		},
	}
}

func TestRecordIDForms(t *testing.T) {
	var a, b RecordID
	require.NoError(t, json.Unmarshal([]byte(`12`), &a))
	require.NoError(t, json.Unmarshal([]byte(`"12"`), &b))
	assert.Equal(t, a.String(), b.String())

	raw, _ := json.Marshal(a)
	assert.Equal(t, `12`, string(raw))
	raw, _ = json.Marshal(b)
	assert.Equal(t, `"12"`, string(raw))

	var c RecordID
	require.NoError(t, json.Unmarshal([]byte(`null`), &c))
	assert.True(t, c.IsZero())
	assert.Error(t, json.Unmarshal([]byte(`{}`), &c))
}

func TestRecordJSONCarriesCollection(t *testing.T) {
	r, err := decodeRecord(RatebookRecords, []byte(`{"id": 1, "name": "W. Blacksmith", "standardRate": "£1 2s 6d", "hoursWorked": 47.5, "database": "bogus"}`))
	require.NoError(t, err)
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": 1, "name": "W. Blacksmith", "standardRate": "£1 2s 6d", "hoursWorked": 47.5, "database": "ratebookRecords"}`, string(raw))

	_, err = decodeRecord(Collection("shipLogs"), []byte(`{"id": 1}`))
	assert.Error(t, err)
}

func TestTextForms(t *testing.T) {
	r, err := decodeRecord(DockingRegister, []byte(`{"id": 1, "name": "John Smith", "entryNumber": 1234, `+
		`"apprenticeshipYear": 1904, "craft": {"primary": "Rigger"}, "skills": "Caulking", "supervisors": ["T. Marsh", 7, null]}`))
	require.NoError(t, err)
	d := r.(*DockingRegisterRecord)
	assert.Equal(t, "1234", d.EntryNumber.String())
	assert.Equal(t, "1904", d.ApprenticeshipYear.String())
	assert.Equal(t, []string{"Caulking"}, listField(d.Skills).values)
	assert.Equal(t, []string{"T. Marsh", "7"}, listField(d.Supervisors).values)
	// A member of the wrong shape is kept, but never matches
	assert.Empty(t, textField(d.Craft).values)
	assert.Equal(t, "-", d.summary().Kind)

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": 1, "name": "John Smith", "entryNumber": 1234, "apprenticeshipYear": 1904, `+
		`"craft": {"primary": "Rigger"}, "skills": ["Caulking"], "supervisors": ["T. Marsh", 7, null], "database": "dockingRegister"}`, string(raw))
}

func TestNumericFieldsAreSearchable(t *testing.T) {
	source := &fakeSource{docs: map[string][]string{
		"dockingRegister":  {`{"id": "1", "name": "John Smith", "apprenticeshipYear": 1904}`},
		"tridentNewspaper": {`{"id": "1", "headline": "Dreadnought launched", "issueNumber": 12}`},
		"ratebookRecords":  {`{"id": "1", "name": "W. Blacksmith", "employeeNumber": 1044, "bookNumber": 3}`},
	}}
	e, _ := newTestEngine(t, source)
	snap, err := e.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, snap.Len())

	res, err := e.Find(&Query{Text: "smith"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dockingRegister/1", "ratebookRecords/1"}, rowKeys(res.Rows))

	res, err = e.Find(&Query{Text: "1044"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ratebookRecords/1"}, rowKeys(res.Rows))
	assert.Equal(t, 12, res.Rows[0].Score)

	res, err = e.Find(&Query{Text: "12"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tridentNewspaper/1"}, rowKeys(res.Rows))

	res, err = e.Find(&Query{Text: "zzz", AdditionalInfo: "1904"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dockingRegister/1"}, rowKeys(res.Rows))
}

func TestUnmodelledMembersAreKept(t *testing.T) {
	doc := `{"_id": {"$oid": "5f1a"}, "id": 3, "headline": "Obituary: J. Marsh", "type": "Obituary", "name": null, "database": "bogus"}`
	r, err := decodeRecord(TridentNewspaper, []byte(doc))
	require.NoError(t, err)
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id": {"$oid": "5f1a"}, "id": 3, "headline": "Obituary: J. Marsh", "type": "Obituary", "name": null, "database": "tridentNewspaper"}`, string(raw))

	// Records built in code have nothing unmodelled
	raw, err = json.Marshal(trident("4", "Launch"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "4", "headline": "Launch", "database": "tridentNewspaper"}`, string(raw))
}

func TestReload(t *testing.T) {
	source := &fakeSource{docs: archiveDocs()}
	e, _ := newTestEngine(t, source)
	assert.False(t, e.IsDataLoaded())

	snap, err := e.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, e.IsDataLoaded())
	assert.Equal(t, snap, e.Snapshot())

	// The documents without a usable id, and the duplicate, are skipped
	assert.Equal(t, 2, snap.Count(DockingRegister))
	assert.Equal(t, 1, snap.Count(TridentNewspaper))
	assert.Equal(t, 1, snap.Count(RatebookRecords))
	assert.Equal(t, 4, snap.Len())

	john, ok := snap.Lookup(DockingRegister, NewRecordID("d1"))
	require.True(t, ok)
	assert.Equal(t, "John Smith", Title(john))
	_, ok = snap.Lookup(DockingRegister, NewRecordID("2"))
	assert.True(t, ok)
	_, ok = snap.Lookup(TridentNewspaper, NewRecordID("2"))
	assert.False(t, ok)

	// Identical data produces an identical fingerprint
	again, err := e.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.Fingerprint(), again.Fingerprint())
	assert.NotSame(t, snap, again)
}

func TestReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	source := &fakeSource{err: errConnectionLost}
	e, _ := newTestEngine(t, source)

	_, err := e.Reload(context.Background())
	require.Error(t, err)
	assert.True(t, web.IsKind(err, web.KindUpstream))
	assert.ErrorIs(t, err, errConnectionLost)
	assert.False(t, e.IsDataLoaded())

	source.set(archiveDocs(), nil)
	first, err := e.Reload(context.Background())
	require.NoError(t, err)

	source.set(nil, errConnectionLost)
	_, err = e.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, first, e.Snapshot())
}

func TestReloadChangesFingerprint(t *testing.T) {
	source := &fakeSource{docs: archiveDocs()}
	e, _ := newTestEngine(t, source)
	first, err := e.Reload(context.Background())
	require.NoError(t, err)

	docs := archiveDocs()
	docs["tridentNewspaper"] = append(docs["tridentNewspaper"], `{"id": 2, "headline": "Dreadnought launched"}`)
	source.set(docs, nil)
	second, err := e.Reload(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.Fingerprint(), second.Fingerprint())
	assert.Equal(t, 2, second.Count(TridentNewspaper))
	// Requests that still hold the first snapshot are unaffected
	assert.Equal(t, 1, first.Count(TridentNewspaper))
}
