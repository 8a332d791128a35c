package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/IMQS/gzipresponse"
	"github.com/IMQS/log"
	"github.com/rs/cors"
)

type jsonErrorResult struct {
	Success  bool     `json:"success"`
	Error    string   `json:"error"`
	Message  string   `json:"message"`
	Required []string `json:"required,omitempty"`
	Missing  []string `json:"missing,omitempty"`
}

type jsonPingResult struct {
	Timestamp int64
}

// Timestamp formats t the way every service reports times: RFC 3339, UTC, millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// SendJSON writes v as a JSON response with the given status, gzipped when the client accepts it.
func SendJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "max-age=0, no-cache")
	if status == http.StatusOK {
		gzipresponse.Write(w, r, raw)
		return
	}
	w.WriteHeader(status)
	w.Write(raw)
}

// SendError reports err to the caller. An *Error is reported with its own tag and status; any
// other error is an internal failure, logged in full and reported with a generic message.
func SendError(errorLog *log.Logger, w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		errorLog.Errorf("%v %v: %v", r.Method, r.URL.Path, err)
		SendJSON(w, r, http.StatusInternalServerError, &jsonErrorResult{
			Error:   "Internal error",
			Message: "An error occurred while processing your request. Please try again.",
		})
		return
	}
	if e.Kind == KindUpstream {
		errorLog.Warnf("%v %v: %v", r.Method, r.URL.Path, e)
	}
	SendJSON(w, r, e.HTTPStatus(), &jsonErrorResult{
		Error:    e.Tag,
		Message:  e.Message,
		Required: e.Required,
		Missing:  e.Missing,
	})
}

func HttpPing(w http.ResponseWriter, r *http.Request) {
	SendJSON(w, r, http.StatusOK, &jsonPingResult{Timestamp: time.Now().Unix()})
}

// CORS wraps h so that browsers on the allowed origins may call it.
func CORS(allowedOrigins []string, h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(h)
}

// AccessLogged records every request in the access log, with its duration.
func AccessLogged(accessLog *log.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		accessLog.Infof("%v %v %v %.2f ms", r.Method, r.URL.RequestURI(), rec.status, time.Since(start).Seconds()*1000.0)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// ListenAndServe runs h on addr until the listener fails.
func ListenAndServe(errorLog *log.Logger, name, addr string, h http.Handler) error {
	errorLog.Infof("%v is listening on %v", name, addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := server.ListenAndServe()
	errorLog.Infof("ListenAndServe: %v", err)
	return err
}
