package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/dockyard-archive/dockyard/web"
	"github.com/google/uuid"
)

const msgNoMatches = "No exact matches found in our current digital archives, but our researchers will conduct " +
	"a manual search of additional physical records and contact you if any related information is discovered."

type jsonSearchResponse struct {
	Success       bool              `json:"success"`
	Message       string            `json:"message"`
	SearchRequest jsonSearchRequest `json:"searchRequest"`
	Results       jsonSearchResults `json:"results"`
	NextSteps     string            `json:"nextSteps"`
}

type jsonSearchRequest struct {
	RequestID      string            `json:"requestId"`
	SubmittedBy    string            `json:"submittedBy"`
	Email          string            `json:"email"`
	Query          string            `json:"query"`
	AdditionalInfo string            `json:"additionalInfo,omitempty"`
	Databases      *CollectionFilter `json:"databases,omitempty"`
	Timestamp      string            `json:"timestamp"`
}

type jsonSearchResults struct {
	TotalFound int                                `json:"totalFound"`
	ByDatabase map[Collection]*jsonCollectionHits `json:"byDatabase"`
	AllResults []Record                           `json:"allResults"`
}

type jsonCollectionHits struct {
	Count int      `json:"count"`
	Data  []Record `json:"data"`
}

// newRequestID produces ids like "SR-1718000000000-k3j9x0a2b"
func newRequestID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("SR-%d-%s", now.UnixMilli(), random[:9])
}

func nextStepsMessage(totalFound int, email string) string {
	if totalFound > 0 {
		return fmt.Sprintf("We found %v matching records across our databases. Our researchers will review these findings "+
			"and contact you at %v with detailed information within 5-7 business days.", totalFound, email)
	}
	return msgNoMatches
}

// assembleSearchResponse groups ranked rows by collection, and builds the response envelope.
// Scores are dropped here. Each record carries every member it was loaded with, plus its database tag.
func assembleSearchResponse(req *SearchRequest, res *FindResult, now time.Time) *jsonSearchResponse {
	all := make([]Record, 0, len(res.Rows))
	byDatabase := map[Collection]*jsonCollectionHits{}
	for _, c := range Collections {
		byDatabase[c] = &jsonCollectionHits{Data: []Record{}}
	}
	for _, row := range res.Rows {
		all = append(all, row.Record)
		hits := byDatabase[row.Record.Collection()]
		hits.Data = append(hits.Data, row.Record)
		hits.Count++
	}

	nonEmpty := 0
	for _, hits := range byDatabase {
		if hits.Count != 0 {
			nonEmpty++
		}
	}

	return &jsonSearchResponse{
		Success: true,
		Message: fmt.Sprintf("Search completed successfully. Found %v records across %v databases.", len(all), nonEmpty),
		SearchRequest: jsonSearchRequest{
			RequestID:      newRequestID(now),
			SubmittedBy:    req.Name,
			Email:          req.Email,
			Query:          req.Query,
			AdditionalInfo: req.AdditionalInfo,
			Databases:      req.Databases,
			Timestamp:      web.Timestamp(now),
		},
		Results: jsonSearchResults{
			TotalFound: len(all),
			ByDatabase: byDatabase,
			AllResults: all,
		},
		NextSteps: nextStepsMessage(len(all), req.Email),
	}
}
