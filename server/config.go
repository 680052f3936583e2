// Package server implements the authorization endpoint core: request
// parsing and PAR/JAR resolution, validation, session and consent
// resolution, interaction-challenge issuance, authorization code and
// hybrid/implicit token minting, response formatting, and the error
// router that decides which of those surfaces gets to see a given failure.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"log/slog"

	"github.com/dexidp/dex/jar"
	"github.com/dexidp/dex/signer"
	"github.com/dexidp/dex/storage"
)

// Config holds the server's configuration options. Field names mirror the
// recognized configuration surface of spec §6, supplemented with the
// ambient operational knobs (logging, metrics, tracing, CORS) dexidp/dex's
// own server.Config carries.
type Config struct {
	Issuer string

	ClientStore    storage.ClientStore
	SessionStore   storage.SessionStore
	CodeStore      storage.AuthorizationCodeStore
	PARStore       storage.PARStore
	ChallengeStore storage.ChallengeStore
	ConsentStore   storage.ConsentStore
	DPoPStore      storage.DPoPJtiStore

	Signer  signer.Signer
	JAR     *jar.Resolver
	Fetcher *jar.Fetcher

	// List of allowed origins for CORS requests on the discovery and keys
	// endpoints. If none are indicated, CORS requests are disabled. "*"
	// allows any domain.
	AllowedOrigins []string
	AllowedHeaders []string

	// AllowHTTPRedirect permits http-scheme (and always permits loopback)
	// redirect_uri values, for local development only.
	AllowHTTPRedirect bool

	// AllowNoneAlgorithm permits alg=none on JAR request objects. Development
	// only; never enable in production.
	AllowNoneAlgorithm bool

	// RequirePAR and AllowPublicClients implement the FAPI 2.0 profile
	// switches from spec §4.2.
	RequirePAR         bool
	AllowPublicClients bool

	SessionTTL   time.Duration
	CodeTTL      time.Duration
	PARTTL       time.Duration
	ChallengeTTL time.Duration

	IDTokenValidFor     time.Duration
	AccessTokenValidFor time.Duration

	// UIURL is the external interaction UI's base URL. Challenges redirect
	// to "<UIURL>?challenge_id=<id>". If empty, the server's own internal
	// stub interaction page is used instead.
	UIURL string

	Now func() time.Time

	Logger *slog.Logger

	PrometheusRegistry *prometheus.Registry

	HealthChecker gosundheit.Health
}

func value(val, defaultValue time.Duration) time.Duration {
	if val == 0 {
		return defaultValue
	}
	return val
}

// Server is the top-level authorization endpoint object.
type Server struct {
	issuerURL url.URL

	clients   storage.ClientStore
	sessions  storage.SessionStore
	codes     storage.AuthorizationCodeStore
	pars      storage.PARStore
	challenge storage.ChallengeStore
	consent   storage.ConsentStore
	dpopJTI   storage.DPoPJtiStore

	signer  signer.Signer
	jar     *jar.Resolver
	fetcher *jar.Fetcher

	allowHTTPRedirect  bool
	allowNoneAlgorithm bool
	requirePAR         bool
	allowPublicClients bool

	sessionTTL   time.Duration
	codeTTL      time.Duration
	parTTL       time.Duration
	challengeTTL time.Duration

	idTokenValidFor     time.Duration
	accessTokenValidFor time.Duration

	uiURL string

	now func() time.Time

	logger *slog.Logger

	templates *templates

	mux http.Handler

	mu sync.Mutex
}

// NewServer constructs a Server from the provided config and starts its
// background signing-key rotation and its stores' TTL sweeps.
func NewServer(ctx context.Context, c Config) (*Server, error) {
	issuerURL, err := url.Parse(c.Issuer)
	if err != nil {
		return nil, fmt.Errorf("server: can't parse issuer URL: %w", err)
	}
	if c.ClientStore == nil || c.SessionStore == nil || c.CodeStore == nil ||
		c.PARStore == nil || c.ChallengeStore == nil || c.ConsentStore == nil || c.DPoPStore == nil {
		return nil, errors.New("server: all collaborator stores are required")
	}
	if c.Signer == nil {
		return nil, errors.New("server: signer cannot be nil")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	now := c.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		issuerURL:           *issuerURL,
		clients:             c.ClientStore,
		sessions:            c.SessionStore,
		codes:               c.CodeStore,
		pars:                c.PARStore,
		challenge:           c.ChallengeStore,
		consent:             c.ConsentStore,
		dpopJTI:             c.DPoPStore,
		signer:              c.Signer,
		jar:                 c.JAR,
		fetcher:             c.Fetcher,
		allowHTTPRedirect:   c.AllowHTTPRedirect,
		allowNoneAlgorithm:  c.AllowNoneAlgorithm,
		requirePAR:          c.RequirePAR,
		allowPublicClients:  c.AllowPublicClients,
		sessionTTL:          value(c.SessionTTL, 3600*time.Second),
		codeTTL:             value(c.CodeTTL, 120*time.Second),
		parTTL:              value(c.PARTTL, 60*time.Second),
		challengeTTL:        value(c.ChallengeTTL, 600*time.Second),
		idTokenValidFor:     value(c.IDTokenValidFor, time.Hour),
		accessTokenValidFor: value(c.AccessTokenValidFor, time.Hour),
		uiURL:               c.UIURL,
		now:                 now,
		logger:              c.Logger,
		templates:           loadTemplates(),
	}

	s.signer.Start(ctx)

	instrumentHandler := func(_ string, handler http.Handler) http.HandlerFunc {
		return handler.ServeHTTP
	}
	if c.PrometheusRegistry != nil {
		requestCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authzcore_http_requests_total",
			Help: "Count of all HTTP requests.",
		}, []string{"code", "method", "handler"})
		durationHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authzcore_request_duration_seconds",
			Help:    "A histogram of latencies for requests.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"code", "method", "handler"})
		c.PrometheusRegistry.MustRegister(requestCounter, durationHist)

		instrumentHandler = func(handlerName string, handler http.Handler) http.HandlerFunc {
			return promhttp.InstrumentHandlerDuration(durationHist.MustCurryWith(prometheus.Labels{"handler": handlerName}),
				promhttp.InstrumentHandlerCounter(requestCounter.MustCurryWith(prometheus.Labels{"handler": handlerName}), handler),
			)
		}
	}

	handlerWithContext := func(handlerName string, handler http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx := WithRequestID(r.Context())
			r = r.WithContext(ctx)
			instrumentHandler(handlerName, handler)(w, r)
		}
	}

	r := mux.NewRouter().SkipClean(true).UseEncodedPath()
	handle := func(p string, h http.HandlerFunc) {
		r.Handle(path.Join(issuerURL.Path, p), handlerWithContext(p, h))
	}
	handleWithCORS := func(p string, h http.HandlerFunc) {
		var handler http.Handler = h
		if len(c.AllowedOrigins) > 0 {
			cors := handlers.CORS(
				handlers.AllowedOrigins(c.AllowedOrigins),
				handlers.AllowedHeaders(c.AllowedHeaders),
			)
			handler = cors(handler)
		}
		r.Handle(path.Join(issuerURL.Path, p), handlerWithContext(p, handler.ServeHTTP))
	}
	r.NotFoundHandler = http.NotFoundHandler()

	discovery, err := s.discoveryHandler()
	if err != nil {
		return nil, err
	}
	handleWithCORS("/.well-known/openid-configuration", discovery)
	handleWithCORS("/keys", s.handleKeys)

	handle("/authorize", s.handleAuthorize)
	handle("/authorize/login", s.handleLoginCallback)
	handle("/authorize/confirm", s.handleConfirmCallback)

	if c.HealthChecker != nil {
		handle("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if !c.HealthChecker.IsHealthy() {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintln(w, "health check failed")
				return
			}
			fmt.Fprintln(w, "ok")
		})
	}
	if c.PrometheusRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(c.PrometheusRegistry, promhttp.HandlerOpts{}))
	}

	s.mux = r

	s.startSweeps(ctx)

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) absURL(pathItems ...string) string {
	u := s.issuerURL
	paths := make([]string, len(pathItems)+1)
	paths[0] = s.issuerURL.Path
	copy(paths[1:], pathItems)
	u.Path = path.Join(paths...)
	return u.String()
}

// sweeper is implemented by the memory stores, which lazily evict expired
// entries on access but also benefit from a periodic background sweep to
// bound steady-state memory use when a key is never looked up again.
type sweeper interface {
	Sweep() int
}

func (s *Server) startSweeps(ctx context.Context) {
	var sweepable []sweeper
	for _, store := range []interface{}{s.codes, s.pars, s.challenge, s.sessions, s.dpopJTI} {
		if sw, ok := store.(sweeper); ok {
			sweepable = append(sweepable, sw)
		}
	}
	if len(sweepable) == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, sw := range sweepable {
					sw.Sweep()
				}
			}
		}
	}()
}

type logRequestKey string

const (
	RequestKeyRequestID logRequestKey = "request_id"
	RequestKeyRemoteIP  logRequestKey = "client_remote_addr"
)

func WithRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, RequestKeyRequestID, uuid.NewString())
}

func WithRemoteIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, RequestKeyRemoteIP, ip)
}

// stripXRemoteHeaders is retained from the teacher's /callback handler
// precaution and applied to the UI callback endpoints this core does serve.
func stripXRemoteHeaders(r *http.Request) {
	for key := range r.Header {
		if strings.HasPrefix(strings.ToLower(key), "x-remote-") {
			r.Header.Del(key)
		}
	}
}
