package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dockyard-archive/dockyard/web"
	"github.com/julienschmidt/httprouter"
)

const DefaultHttpPort = "5002"

// Upper bound on request bodies
const maxRequestBodySize = 1 << 20

type jsonNotLoadedResult struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	DataLoaded bool   `json:"dataLoaded"`
}

type jsonDatabase struct {
	ID          Collection `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Count       int        `json:"count"`
	Details     string     `json:"details"`
}

type jsonDatabasesResult struct {
	Success    bool            `json:"success"`
	Data       []*jsonDatabase `json:"data"`
	Count      int             `json:"count"`
	DataLoaded bool            `json:"dataLoaded"`
	Timestamp  string          `json:"timestamp"`
}

type jsonHealthStats struct {
	TotalRecords       int                `json:"totalRecords"`
	AvailableDatabases int                `json:"availableDatabases"`
	RecordsByDatabase  map[Collection]int `json:"recordsByDatabase"`
}

type jsonHealthResult struct {
	Service    string          `json:"service"`
	Status     string          `json:"status"`
	DataLoaded bool            `json:"dataLoaded"`
	Timestamp  string          `json:"timestamp"`
	Snapshot   string          `json:"snapshot,omitempty"`
	LoadedAt   string          `json:"loadedAt,omitempty"`
	Stats      jsonHealthStats `json:"stats"`
}

type jsonSendResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SentCount int    `json:"sentCount"`
}

type jsonReloadResult struct {
	Success           bool               `json:"success"`
	Message           string             `json:"message"`
	Snapshot          string             `json:"snapshot"`
	RecordsByDatabase map[Collection]int `json:"recordsByDatabase"`
}

// Static descriptions of each collection, shown by the search form
var databaseDescriptions = []jsonDatabase{
	{
		ID:          DockingRegister,
		Name:        "Docking Register",
		Description: "Official personnel records and employment details",
		Icon:        "📋",
		Details:     "Comprehensive employment records including personal details, crafts, service dates, and career progression",
	},
	{
		ID:          TridentNewspaper,
		Name:        "Trident Newspaper",
		Description: "Portsmouth Dockyard newspaper archives",
		Icon:        "📰",
		Details:     "Historical newspaper articles, announcements, obituaries, and social events from the dockyard community",
	},
	{
		ID:          RatebookRecords,
		Name:        "Ratebook Records",
		Description: "Historical wage and payment records",
		Icon:        "💰",
		Details:     "Weekly wage records showing hours worked, pay rates, overtime, deductions, and department assignments",
	},
}

// Handler returns the complete HTTP surface of the search service
func (e *Engine) Handler() http.Handler {
	makeRoute := func(f func(*Engine, http.ResponseWriter, *http.Request, httprouter.Params)) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			f(e, w, r, ps)
		}
	}

	router := httprouter.New()
	router.POST("/query", makeRoute(httpQuery))
	router.POST("/send-all-results", makeRoute(httpSendResults))
	router.POST("/send-selected-results", makeRoute(httpSendResults))
	router.GET("/databases", makeRoute(httpDatabases))
	router.GET("/health", makeRoute(httpHealth))
	router.POST("/reload", makeRoute(httpReload))
	router.GET("/ping", makeRoute(httpPing))

	cfg := e.GetConfig()
	return web.AccessLogged(e.AccessLog, web.CORS(cfg.CORS.AllowedOrigins, router))
}

func (e *Engine) RunHttp() error {
	addr := e.GetConfig().ListenAddr(DefaultHttpPort)
	return web.ListenAndServe(e.ErrorLog, "Search", addr, e.Handler())
}

func (e *Engine) sendError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errNotLoaded) {
		web.SendJSON(w, r, http.StatusServiceUnavailable, &jsonNotLoadedResult{
			Error:      errNotLoaded.Tag,
			Message:    errNotLoaded.Message,
			DataLoaded: false,
		})
		return
	}
	web.SendError(e.ErrorLog, w, r, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return web.NewValidationError("Invalid request body", fmt.Sprintf("Request body is not valid JSON: %v", err))
	}
	return nil
}

func httpQuery(e *Engine, w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !e.IsDataLoaded() {
		e.sendError(w, r, errNotLoaded)
		return
	}
	req := SearchRequest{}
	if err := decodeBody(w, r, &req); err != nil {
		e.sendError(w, r, err)
		return
	}
	query, err := NormalizeSearchRequest(&req)
	if err != nil {
		e.sendError(w, r, err)
		return
	}
	results, err := e.Find(query)
	if err != nil {
		e.ErrorLog.Warnf(`Query failed: %v. Query = %v`, err, query)
		e.sendError(w, r, err)
		return
	}
	e.AccessLog.Infof("Find(%v): %v results in %.2v ms", query, len(results.Rows), results.TimeTotal.Seconds()*1000.0)
	web.SendJSON(w, r, http.StatusOK, assembleSearchResponse(&req, results, time.Now()))
}

func httpSendResults(e *Engine, w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !e.IsDataLoaded() {
		e.sendError(w, r, errNotLoaded)
		return
	}
	req := SendRequest{}
	if err := decodeBody(w, r, &req); err != nil {
		e.sendError(w, r, err)
		return
	}
	sent, err := e.SendResults(r.Context(), &req)
	if err != nil {
		e.sendError(w, r, err)
		return
	}
	web.SendJSON(w, r, http.StatusOK, &jsonSendResult{
		Success:   true,
		Message:   fmt.Sprintf("Selected records sent to %v", req.Email),
		SentCount: sent,
	})
}

// countsByCollection works on a nil snapshot too, in which case every count is zero
func countsByCollection(snap *Snapshot) map[Collection]int {
	counts := map[Collection]int{}
	for _, c := range Collections {
		counts[c] = 0
		if snap != nil {
			counts[c] = snap.Count(c)
		}
	}
	return counts
}

func httpDatabases(e *Engine, w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	counts := countsByCollection(e.Snapshot())
	res := jsonDatabasesResult{
		Success:    true,
		DataLoaded: e.IsDataLoaded(),
		Timestamp:  web.Timestamp(time.Now()),
	}
	for _, desc := range databaseDescriptions {
		db := desc
		db.Count = counts[db.ID]
		res.Data = append(res.Data, &db)
	}
	res.Count = len(res.Data)
	web.SendJSON(w, r, http.StatusOK, &res)
}

func httpHealth(e *Engine, w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	snap := e.Snapshot()
	res := jsonHealthResult{
		Service:    "search",
		Status:     "loading",
		DataLoaded: snap != nil,
		Timestamp:  web.Timestamp(time.Now()),
		Stats: jsonHealthStats{
			AvailableDatabases: len(Collections),
			RecordsByDatabase:  countsByCollection(snap),
		},
	}
	if snap != nil {
		res.Status = "healthy"
		res.Snapshot = snap.Fingerprint()
		res.LoadedAt = web.Timestamp(snap.LoadedAt())
		res.Stats.TotalRecords = snap.Len()
	}
	web.SendJSON(w, r, http.StatusOK, &res)
}

func httpReload(e *Engine, w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// The reload must not be abandoned just because the client hung up
	snap, err := e.Reload(context.Background())
	if err != nil {
		e.sendError(w, r, err)
		return
	}
	web.SendJSON(w, r, http.StatusOK, &jsonReloadResult{
		Success:           true,
		Message:           fmt.Sprintf("Reloaded %v records", snap.Len()),
		Snapshot:          snap.Fingerprint(),
		RecordsByDatabase: countsByCollection(snap),
	})
}

func httpPing(e *Engine, w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	web.HttpPing(w, r)
}
