package server

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

/*
Finding records is a full linear scan over the snapshot. The snapshot holds a few tens of
thousands of records at most, so there is no index.

A search runs in these steps:

	1. Restrict the candidates to the requested collections.
	2. Primary pass: keep the candidates that contain the query in any of their primary fields.
	   An empty query keeps every candidate.
	3. Fuzzy pass: if there is "additional info", scan the candidates from step 1 again (NOT the
	   result of step 2), and append every record that contains the additional info in one of its
	   fuzzy fields, unless the record is already in the result.
	4. Score every result against the primary query, and sort by descending score.

Because of step 3, a record can be returned purely because its date of birth or employee number
overlaps with the additional info. Such a record usually scores 0, and so it sorts last.

Ties keep their order from step 3, which means primary matches in snapshot order, followed by
fuzzy-only matches in snapshot order.
*/

type FindResultRow struct {
	Record Record
	Score  int // Internal. Never sent to clients.
}

type FindResult struct {
	Rows      []*FindResultRow
	TimeMatch time.Duration
	TimeRank  time.Duration
	TimeTotal time.Duration
}

// Find runs q against the current snapshot.
func (e *Engine) Find(q *Query) (*FindResult, error) {
	// track the number of simultaneous find operations, as well as high water mark
	numFindOps := atomic.AddInt32(&e.numFindOpsInProgress, 1)
	defer atomic.AddInt32(&e.numFindOpsInProgress, -1)
	if atomicMaxInt32(&e.maxFindOpsInProgress, numFindOps) {
		e.ErrorLog.Debugf("Max simultaneous find ops in progress: %v", numFindOps)
	}

	snap, err := e.requireSnapshot()
	if err != nil {
		return nil, err
	}
	return FindInSnapshot(snap, q), nil
}

// FindInSnapshot is the pure part of Find. It reads nothing but snap and q.
func FindInSnapshot(snap *Snapshot, q *Query) *FindResult {
	start := time.Now()
	matches := matchRecords(snap.Records(), q)
	matchDone := time.Now()
	rows := rankRecords(matches, q.Text)
	end := time.Now()
	return &FindResult{
		Rows:      rows,
		TimeMatch: matchDone.Sub(start),
		TimeRank:  end.Sub(matchDone),
		TimeTotal: end.Sub(start),
	}
}

func filterByCollection(records []Record, collections []Collection) []Record {
	if len(collections) == 0 {
		return records
	}
	wanted := map[Collection]bool{}
	for _, c := range collections {
		wanted[c] = true
	}
	filtered := []Record{}
	for _, r := range records {
		if wanted[r.Collection()] {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// anyFieldContains is the OR across fields. needle must be lowercase.
func anyFieldContains(fields []field, needle string) bool {
	for _, f := range fields {
		if f.contains(needle) {
			return true
		}
	}
	return false
}

func matchesPrimary(r Record, queryLower string) bool {
	return anyFieldContains(r.primaryFields(), queryLower)
}

func matchesFuzzy(r Record, additionalLower string) bool {
	return anyFieldContains(r.fuzzyFields(), additionalLower)
}

// matchRecords performs steps 1 to 3. The result has no two records with the same
// (id, collection), and is in first-occurrence order.
func matchRecords(records []Record, q *Query) []Record {
	candidates := filterByCollection(records, q.Collections)

	var results []Record
	if isBlank(q.Text) {
		results = append([]Record{}, candidates...)
	} else {
		queryLower := strings.ToLower(q.Text)
		for _, r := range candidates {
			if matchesPrimary(r, queryLower) {
				results = append(results, r)
			}
		}
	}

	if !isBlank(q.AdditionalInfo) {
		additionalLower := strings.ToLower(q.AdditionalInfo)
		seen := make(map[recordKey]bool, len(results))
		for _, r := range results {
			seen[keyOf(r)] = true
		}
		for _, r := range candidates {
			if !seen[keyOf(r)] && matchesFuzzy(r, additionalLower) {
				seen[keyOf(r)] = true
				results = append(results, r)
			}
		}
	}

	return results
}

// scoreRecord sums the weights of every scoring field that contains the query.
// A blank query scores 0.
func scoreRecord(r Record, query string) int {
	if isBlank(query) {
		return 0
	}
	queryLower := strings.ToLower(query)
	score := 0
	for _, rule := range r.scoreRules() {
		if rule.field.contains(queryLower) {
			score += rule.weight
		}
	}
	return score
}

type findResultRowByScore []*FindResultRow

func (a findResultRowByScore) Len() int           { return len(a) }
func (a findResultRowByScore) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a findResultRowByScore) Less(i, j int) bool { return a[i].Score > a[j].Score }

// rankRecords scores matches and sorts them by descending score. The sort is stable, so ties
// keep the order of matches.
func rankRecords(matches []Record, query string) []*FindResultRow {
	rows := make([]*FindResultRow, len(matches))
	for i, r := range matches {
		rows[i] = &FindResultRow{Record: r, Score: scoreRecord(r, query)}
	}
	sort.Stable(findResultRowByScore(rows))
	return rows
}
