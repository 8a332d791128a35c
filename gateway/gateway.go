/*
Package gateway is the single entry point that browsers talk to. It forwards each request to one of
the backend services, and translates transport failures into JSON errors.

Forwarding is one hop with no retries. If a backend responds at all, its status and body are passed
through unchanged, even when the status is an error.
*/
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/IMQS/log"
	"github.com/dockyard-archive/dockyard/config"
	"github.com/dockyard-archive/dockyard/web"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/sync/errgroup"
)

const DefaultHttpPort = "8000"

var availableRoutes = []string{
	"GET /health",
	"GET /api/history/chapters",
	"GET /api/search/*",
	"POST /api/search/*",
	"GET /api/dockyardlife/*",
}

// upstream is one backend service
type upstream struct {
	name  string // as used in JSON, eg "dockyardLife"
	title string // as used in messages, eg "DockyardLife"
	base  *url.URL
	proxy *httputil.ReverseProxy
}

type Gateway struct {
	Config    *config.Config
	ErrorLog  *log.Logger
	AccessLog *log.Logger

	history      *upstream
	search       *upstream
	dockyardLife *upstream
	timeout      time.Duration
	probeClient  *http.Client
}

type jsonUpstreamError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Service string `json:"service,omitempty"`
	Details string `json:"details,omitempty"`
}

type jsonNotFound struct {
	Error           string   `json:"error"`
	Message         string   `json:"message"`
	AvailableRoutes []string `json:"availableRoutes"`
}

type jsonServices struct {
	History      string `json:"history"`
	Search       string `json:"search"`
	DockyardLife string `json:"dockyardLife"`
}

type jsonHealthResult struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  jsonServices      `json:"services"`
	Upstreams map[string]string `json:"upstreams,omitempty"`
}

// New builds a gateway, with loggers, for the services listed in cfg.Services
func New(cfg *config.Config) (*Gateway, error) {
	g := &Gateway{
		Config:  cfg,
		timeout: cfg.Services.Timeout(),
	}
	g.ErrorLog, g.AccessLog = cfg.NewLoggers()
	if err := g.initUpstreams(); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) initUpstreams() error {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   g.timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: g.timeout,
	}
	g.probeClient = &http.Client{Transport: transport, Timeout: g.timeout}

	var err error
	if g.history, err = g.newUpstream("history", "History", g.Config.Services.History, transport); err != nil {
		return err
	}
	if g.search, err = g.newUpstream("search", "Search", g.Config.Services.Search, transport); err != nil {
		return err
	}
	if g.dockyardLife, err = g.newUpstream("dockyardLife", "DockyardLife", g.Config.Services.DockyardLife, transport); err != nil {
		return err
	}
	return nil
}

func (g *Gateway) newUpstream(name, title, rawURL string, transport http.RoundTripper) (*upstream, error) {
	base, err := url.Parse(rawURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("Invalid URL for %v service: %q", name, rawURL)
	}
	u := &upstream{name: name, title: title, base: base}
	u.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(base)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			g.sendUpstreamError(w, r, u, err)
		},
	}
	return u, nil
}

func (g *Gateway) Close() {
	if g.ErrorLog != nil {
		g.ErrorLog.Close()
	}
	if g.AccessLog != nil {
		g.AccessLog.Close()
	}
}

func (g *Gateway) Handler() http.Handler {
	router := httprouter.New()
	router.HandleMethodNotAllowed = false
	router.NotFound = http.HandlerFunc(httpNotFound)
	router.GET("/health", g.httpHealth)
	router.GET("/api/history/chapters", g.forward(g.history, "/chapters"))
	router.GET("/api/search/*path", g.forward(g.search, ""))
	router.POST("/api/search/*path", g.forward(g.search, ""))
	router.GET("/api/dockyardlife/*path", g.forward(g.dockyardLife, ""))
	return web.AccessLogged(g.AccessLog, web.CORS(g.Config.CORS.AllowedOrigins, router))
}

func (g *Gateway) RunHttp() error {
	g.ErrorLog.Infof("Services: history=%v search=%v dockyardLife=%v",
		g.history.base, g.search.base, g.dockyardLife.base)
	return web.ListenAndServe(g.ErrorLog, "API Gateway", g.Config.ListenAddr(DefaultHttpPort), g.Handler())
}

// forward sends the request to u. If path is empty, then the request is sent to the path captured
// by the route's *path wildcard.
func (g *Gateway) forward(u *upstream, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		target := path
		if target == "" {
			target = ps.ByName("path")
		}
		ctx, cancel := context.WithTimeout(r.Context(), g.timeout)
		defer cancel()
		out := r.Clone(ctx)
		out.URL.Path = target
		out.URL.RawPath = ""
		u.proxy.ServeHTTP(w, out)
	}
}

// sendUpstreamError is called when u could not be reached, or did not respond in time
func (g *Gateway) sendUpstreamError(w http.ResponseWriter, r *http.Request, u *upstream, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(r.Context().Err(), context.Canceled) {
		// The client hung up, so there is nobody to respond to
		g.ErrorLog.Debugf("Client went away while calling %v service (%v %v): %v", u.name, r.Method, r.URL.Path, err)
		return
	}
	g.ErrorLog.Warnf("Error calling %v service (%v %v): %v", u.name, r.Method, r.URL.Path, err)
	status := web.ClassifyUpstream(err)
	res := jsonUpstreamError{Service: u.name}
	switch status {
	case http.StatusServiceUnavailable:
		res.Error = fmt.Sprintf("%v service unavailable", u.title)
		res.Message = fmt.Sprintf("Unable to connect to %v service", strings.ToLower(u.title))
	case http.StatusGatewayTimeout:
		res.Error = fmt.Sprintf("%v service timeout", u.title)
		res.Message = fmt.Sprintf("%v service did not respond within %v", u.title, g.timeout)
	default:
		res.Error = "Gateway error"
		res.Message = fmt.Sprintf("Failed to communicate with %v service", strings.ToLower(u.title))
		res.Details = err.Error()
	}
	web.SendJSON(w, r, status, &res)
}

func httpNotFound(w http.ResponseWriter, r *http.Request) {
	web.SendJSON(w, r, http.StatusNotFound, &jsonNotFound{
		Error:           "Route not found",
		Message:         fmt.Sprintf("Route %v %v not found", r.Method, r.URL.RequestURI()),
		AvailableRoutes: availableRoutes,
	})
}

func (g *Gateway) httpHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	res := jsonHealthResult{
		Status:    "healthy",
		Timestamp: web.Timestamp(time.Now()),
		Services: jsonServices{
			History:      g.history.base.String(),
			Search:       g.search.base.String(),
			DockyardLife: g.dockyardLife.base.String(),
		},
	}
	if deep := r.URL.Query().Get("deep"); deep == "1" || deep == "true" {
		res.Upstreams = g.probeUpstreams(r.Context())
	}
	web.SendJSON(w, r, http.StatusOK, &res)
}

// probeUpstreams calls /health on every backend concurrently, and reports each one as "up" or "down"
func (g *Gateway) probeUpstreams(ctx context.Context) map[string]string {
	var lock sync.Mutex
	status := map[string]string{}
	eg, ctx := errgroup.WithContext(ctx)
	for _, u := range []*upstream{g.history, g.search, g.dockyardLife} {
		u := u
		eg.Go(func() error {
			s := "down"
			if err := g.probe(ctx, u); err == nil {
				s = "up"
			} else {
				g.ErrorLog.Warnf("Health probe of %v service failed: %v", u.name, err)
			}
			lock.Lock()
			status[u.name] = s
			lock.Unlock()
			// A failed probe must not cancel the others
			return nil
		})
	}
	eg.Wait()
	return status
}

func (g *Gateway) probe(ctx context.Context, u *upstream) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.base.JoinPath("health").String(), nil)
	if err != nil {
		return err
	}
	resp, err := g.probeClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%v responded with %v", u.name, resp.Status)
	}
	return nil
}
