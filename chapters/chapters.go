/*
Package chapters serves the narrative chapters of the archive's two illustrated books, "history"
and "dockyard life".

A chapter is an opaque JSON document. It is loaded once at startup, and sent to clients exactly as
it was stored. The front-end knows the shape of a chapter; we don't.
*/
package chapters

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/IMQS/log"
	"github.com/dockyard-archive/dockyard/config"
	"github.com/dockyard-archive/dockyard/web"
	"github.com/julienschmidt/httprouter"
)

// Book describes one of the chapter services
type Book struct {
	Service     string // Name reported by /health, and used in logs
	Collection  string // Collection in the document store
	DefaultPort string
}

var (
	History      = Book{Service: "history", Collection: "history", DefaultPort: "5001"}
	DockyardLife = Book{Service: "dockyardlife", Collection: "dockyardLife", DefaultPort: "5003"}
)

// Source is where chapters are loaded from. *store.Store is the production Source.
type Source interface {
	LoadCollection(ctx context.Context, collection string) ([]json.RawMessage, error)
}

type Service struct {
	Book      Book
	Config    *config.Config
	Source    Source
	ErrorLog  *log.Logger
	AccessLog *log.Logger

	chapters atomic.Pointer[[]json.RawMessage]
}

type jsonChaptersResult struct {
	Success   bool              `json:"success"`
	Data      []json.RawMessage `json:"data"`
	Count     int               `json:"count"`
	Timestamp string            `json:"timestamp"`
}

type jsonHealthStats struct {
	TotalChapters int `json:"totalChapters"`
}

type jsonHealthResult struct {
	Service   string          `json:"service"`
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Stats     jsonHealthStats `json:"stats"`
}

func New(book Book, cfg *config.Config, source Source) *Service {
	s := &Service{
		Book:   book,
		Config: cfg,
		Source: source,
	}
	s.ErrorLog, s.AccessLog = cfg.NewLoggers()
	return s
}

// Load reads the chapters from the source. If that fails, the service carries on with no
// chapters, and the error is returned only so that the caller may report it.
func (s *Service) Load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.Config.Database.LoadTimeout())
	defer cancel()
	docs, err := s.Source.LoadCollection(ctx, s.Book.Collection)
	if err != nil {
		s.ErrorLog.Errorf("Failed to load %v chapters: %v", s.Book.Service, err)
		s.setChapters([]json.RawMessage{})
		return err
	}
	s.setChapters(docs)
	s.ErrorLog.Infof("Loaded %v %v chapters", len(docs), s.Book.Service)
	return nil
}

func (s *Service) setChapters(docs []json.RawMessage) {
	if docs == nil {
		docs = []json.RawMessage{}
	}
	s.chapters.Store(&docs)
}

// Chapters returns the loaded chapters. The caller must not modify the slice.
func (s *Service) Chapters() []json.RawMessage {
	if c := s.chapters.Load(); c != nil {
		return *c
	}
	return []json.RawMessage{}
}

func (s *Service) Close() {
	s.ErrorLog.Close()
	s.AccessLog.Close()
}

func (s *Service) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/chapters", s.httpChapters)
	router.GET("/health", s.httpHealth)
	router.GET("/ping", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		web.HttpPing(w, r)
	})
	return web.AccessLogged(s.AccessLog, web.CORS(s.Config.CORS.AllowedOrigins, router))
}

func (s *Service) RunHttp() error {
	return web.ListenAndServe(s.ErrorLog, s.Book.Service, s.Config.ListenAddr(s.Book.DefaultPort), s.Handler())
}

func (s *Service) httpChapters(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	chapters := s.Chapters()
	web.SendJSON(w, r, http.StatusOK, &jsonChaptersResult{
		Success:   true,
		Data:      chapters,
		Count:     len(chapters),
		Timestamp: web.Timestamp(time.Now()),
	})
}

func (s *Service) httpHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	web.SendJSON(w, r, http.StatusOK, &jsonHealthResult{
		Service:   s.Book.Service,
		Status:    "healthy",
		Timestamp: web.Timestamp(time.Now()),
		Stats:     jsonHealthStats{TotalChapters: len(s.Chapters())},
	})
}
