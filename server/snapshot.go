package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dockyard-archive/dockyard/web"
	"github.com/pierrec/xxHash/xxHash32"
	"golang.org/x/sync/errgroup"
)

// Source is where snapshots are loaded from. *store.Store is the production Source.
type Source interface {
	LoadCollection(ctx context.Context, collection string) ([]json.RawMessage, error)
}

// Snapshot is the complete set of records at one point in time. It is never modified after
// newSnapshot returns, so any number of requests may read it concurrently. Refreshing the data
// means building a new Snapshot, and swapping it in.
type Snapshot struct {
	records      []Record // dockingRegister, then tridentNewspaper, then ratebookRecords
	byCollection map[Collection][]Record
	byKey        map[recordKey]Record
	fingerprint  uint32
	loadedAt     time.Time
}

// newSnapshot takes ownership of records, which must already be free of duplicate keys and
// ordered by collection.
func newSnapshot(records []Record, fingerprint uint32, loadedAt time.Time) *Snapshot {
	s := &Snapshot{
		records:      records,
		byCollection: map[Collection][]Record{},
		byKey:        make(map[recordKey]Record, len(records)),
		fingerprint:  fingerprint,
		loadedAt:     loadedAt,
	}
	for _, r := range records {
		s.byCollection[r.Collection()] = append(s.byCollection[r.Collection()], r)
		s.byKey[keyOf(r)] = r
	}
	return s
}

// NewSnapshot builds a snapshot out of records, keeping only the first record of each
// (id, collection) pair. It is used by tests and tools that synthesize data in code.
func NewSnapshot(records ...Record) *Snapshot {
	seen := map[recordKey]bool{}
	ordered := []Record{}
	for _, c := range Collections {
		for _, r := range records {
			if r.Collection() != c || seen[keyOf(r)] {
				continue
			}
			seen[keyOf(r)] = true
			ordered = append(ordered, r)
		}
	}
	h := xxHash32.New(1)
	for _, r := range ordered {
		raw, _ := json.Marshal(r)
		h.Write(raw)
	}
	return newSnapshot(ordered, h.Sum32(), time.Now())
}

// Records returns every record, in snapshot order. The caller must not modify the slice.
func (s *Snapshot) Records() []Record {
	return s.records
}

func (s *Snapshot) Len() int {
	return len(s.records)
}

func (s *Snapshot) Count(c Collection) int {
	return len(s.byCollection[c])
}

func (s *Snapshot) Lookup(c Collection, id RecordID) (Record, bool) {
	r, ok := s.byKey[recordKey{collection: c, id: id.String()}]
	return r, ok
}

// Fingerprint identifies the content of the snapshot. Two loads of identical data produce the
// same fingerprint.
func (s *Snapshot) Fingerprint() string {
	return fmt.Sprintf("%08x", s.fingerprint)
}

func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// loadSnapshot fetches all three collections from the source and builds a new snapshot. The
// collections are fetched concurrently, but the whole operation shares one deadline.
func (e *Engine) loadSnapshot(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, e.GetConfig().Database.LoadTimeout())
	defer cancel()

	docs := make([][]json.RawMessage, len(Collections))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range Collections {
		i, c := i, c
		g.Go(func() error {
			d, err := e.Source.LoadCollection(gctx, string(c))
			if err != nil {
				return fmt.Errorf("Loading %v: %w", c, err)
			}
			docs[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, web.NewUpstreamError("Failed to load archive", "Unable to load records from the document store", err)
	}

	h := xxHash32.New(1)
	seen := map[recordKey]bool{}
	records := []Record{}
	for i, c := range Collections {
		for n, doc := range docs[i] {
			h.Write([]byte(c))
			h.Write(doc)
			r, err := decodeRecord(c, doc)
			if err != nil {
				e.ErrorLog.Warnf("Skipping %v document %v: %v", c, n, err)
				continue
			}
			if r.RecordID().IsZero() {
				e.ErrorLog.Warnf("Skipping %v document %v: it has no id", c, n)
				continue
			}
			key := keyOf(r)
			if seen[key] {
				e.ErrorLog.Warnf("Skipping %v document %v: duplicate id %v", c, n, key.id)
				continue
			}
			seen[key] = true
			records = append(records, r)
		}
	}
	return newSnapshot(records, h.Sum32(), time.Now()), nil
}
