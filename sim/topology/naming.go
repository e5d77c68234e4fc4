package topology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim"
)

// Releaser gives back the naming-service resource once the run is over.
// The clock driver calls it after it stops.
type Releaser interface {
	Release(ctx context.Context) error
}

// NamingService serves a Registry over HTTP so that participants running in
// other processes can resolve names. It must be started before any remote
// resolution and is released by the clock driver after the run.
//
// Routes:
//
//	GET  /v1/participants
//	GET  /v1/participants/{name}
//	GET  /v1/participants/{name}/dependencies
//	POST /v1/shutdown
//	GET  /healthz
//	GET  /metrics
type NamingService struct {
	registry *Registry
	addr     string

	mu       sync.Mutex
	srv      *http.Server
	ln       net.Listener
	done     chan struct{}
	stopOnce sync.Once
}

// NewNamingService prepares a service for reg on addr (host:port, port 0 for any).
func NewNamingService(reg *Registry, addr string) *NamingService {
	return &NamingService{
		registry: reg,
		addr:     addr,
		done:     make(chan struct{}),
	}
}

// Handler returns the HTTP routes without starting a listener.
func (n *NamingService) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/participants", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, n.registry.Endpoints())
		})
		r.Get("/participants/{name}", func(w http.ResponseWriter, req *http.Request) {
			ep, err := n.registry.Resolve(chi.URLParam(req, "name"))
			if err != nil {
				writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, ep)
		})
		r.Get("/participants/{name}/dependencies", func(w http.ResponseWriter, req *http.Request) {
			deps, err := n.registry.DependenciesOf(chi.URLParam(req, "name"))
			if err != nil {
				writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
				return
			}
			if deps == nil {
				deps = []string{}
			}
			writeJSON(w, http.StatusOK, deps)
		})
		r.Post("/shutdown", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := n.Stop(ctx); err != nil {
					logrus.Warnf("naming service: shutdown: %v", err)
				}
			}()
		})
	})
	return r
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Debugf("naming service: write response: %v", err)
	}
}

// Start binds the listener and serves in the background.
func (n *NamingService) Start() error {
	ln, err := net.Listen("tcp", n.addr)
	if err != nil {
		return &sim.ConnectionError{Endpoint: n.addr, Err: err}
	}
	srv := &http.Server{
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	n.mu.Lock()
	n.ln, n.srv = ln, srv
	n.mu.Unlock()

	logrus.Infof("naming service listening on %s (%d participants)", ln.Addr(), n.registry.TotalParticipants())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("naming service: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (n *NamingService) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ln != nil {
		return n.ln.Addr().String()
	}
	return n.addr
}

// Stop shuts the server down. Safe to call more than once.
func (n *NamingService) Stop(ctx context.Context) error {
	var err error
	n.stopOnce.Do(func() {
		n.mu.Lock()
		srv := n.srv
		n.mu.Unlock()
		if srv != nil {
			err = srv.Shutdown(ctx)
		}
		close(n.done)
		logrus.Info("naming service stopped")
	})
	return err
}

// Release implements Releaser.
func (n *NamingService) Release(ctx context.Context) error { return n.Stop(ctx) }

// Done is closed once the service has stopped.
func (n *NamingService) Done() <-chan struct{} { return n.done }

// NamingClient resolves names against a remote NamingService.
type NamingClient struct {
	baseURL string
	http    *http.Client
}

// NewNamingClient creates a client for addr, given as host:port or as a URL.
func NewNamingClient(addr string) *NamingClient {
	base := strings.TrimSuffix(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &NamingClient{
		baseURL: base,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Fetch downloads the whole participant table and builds a local Registry.
// An unreachable service is a *sim.ConnectionError.
func (c *NamingClient) Fetch(ctx context.Context) (*Registry, error) {
	var eps []Endpoint
	if err := c.get(ctx, "/v1/participants", "", &eps); err != nil {
		return nil, err
	}
	return FromEndpoints(eps)
}

// Resolve looks up one participant. Unknown names yield a *sim.ResolutionError.
func (c *NamingClient) Resolve(ctx context.Context, name string) (Endpoint, error) {
	var ep Endpoint
	if err := c.get(ctx, "/v1/participants/"+url.PathEscape(name), name, &ep); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// Release asks the remote service to shut down.
func (c *NamingClient) Release(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/shutdown", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &sim.ConnectionError{Endpoint: c.baseURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("naming shutdown: unexpected status %s", resp.Status)
	}
	return nil
}

func (c *NamingClient) get(ctx context.Context, path, name string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &sim.ConnectionError{Endpoint: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case http.StatusNotFound:
		if name != "" {
			return &sim.ResolutionError{Name: name}
		}
	}
	return fmt.Errorf("naming %s: unexpected status %s", path, resp.Status)
}
