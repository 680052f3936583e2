package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/ghodss/yaml"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dexidp/dex/jar"
	"github.com/dexidp/dex/server"
	"github.com/dexidp/dex/signer"
	"github.com/dexidp/dex/storage"
	"github.com/dexidp/dex/storage/memory"
)

func commandServe() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [flags] config-file",
		Short: "Launch the authorization server",
		Long:  "",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(args[0])
		},
	}
}

var allowedTLSCiphers = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
}

func runServe(configFile string) error {
	configData, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %v", configFile, err)
	}

	var c Config
	if err := yaml.Unmarshal(configData, &c); err != nil {
		return fmt.Errorf("error parse config file %s: %v", configFile, err)
	}
	if err := replaceEnvKeys(&c, os.Getenv); err != nil {
		return fmt.Errorf("error expanding $ENV references in config file %s: %v", configFile, err)
	}
	if err := c.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(c.Logger.Level)); err != nil && c.Logger.Level != "" {
		return fmt.Errorf("invalid config: unrecognized log level %q", c.Logger.Level)
	}
	logger, err := newLogger(level, c.Logger.Format)
	if err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}
	logger.Info("config issuer", "issuer", c.Issuer)

	sessionTTL, codeTTL, parTTL, challengeTTL, idTokenFor, accessTokenFor, err := c.Expiry.parse()
	if err != nil {
		return fmt.Errorf("invalid config: parsing expiry durations: %v", err)
	}

	now := func() time.Time { return time.Now().UTC() }

	clients, err := staticClientStore(c.StaticClients)
	if err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}

	keyManager := memory.NewKeyManager()
	localSigner, err := (&signer.LocalConfig{}).Open(keyManager, idTokenFor, now, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize signer: %v", err)
	}

	var fetcher *jar.Fetcher
	if c.RequestURIFetch.Enabled {
		timeout := time.Duration(c.RequestURIFetch.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		maxBytes := c.RequestURIFetch.MaxBytes
		if maxBytes <= 0 {
			maxBytes = 100 * 1024
		}
		fetcher = jar.NewFetcher(jar.FetcherConfig{
			Enabled:        true,
			AllowedDomains: c.RequestURIFetch.AllowedDomains,
			Timeout:        timeout,
			MaxBytes:       maxBytes,
		})
	}

	jarResolver, err := jar.New(jar.Config{
		Fetcher:            fetcher,
		ServerKeys:         localSigner.ValidationKeys,
		AllowNoneAlgorithm: c.AllowNoneAlgorithm,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize JAR resolver: %v", err)
	}

	prometheusRegistry := prometheus.NewRegistry()
	if err := prometheusRegistry.Register(prometheus.NewGoCollector()); err != nil {
		return fmt.Errorf("failed to register Go runtime metrics: %v", err)
	}
	if err := prometheusRegistry.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{})); err != nil {
		return fmt.Errorf("failed to register process metrics: %v", err)
	}

	healthChecker := gosundheit.New()

	srv, err := server.NewServer(context.Background(), server.Config{
		Issuer: c.Issuer,

		ClientStore:    clients,
		SessionStore:   memory.NewSessionStore(16, now),
		CodeStore:      memory.NewCodeStore(16, now),
		PARStore:       memory.NewPARStore(16, now),
		ChallengeStore: memory.NewChallengeStore(16, now),
		ConsentStore:   memory.NewConsentStore(),
		DPoPStore:      memory.NewDPoPJtiStore(16, now),

		Signer:  localSigner,
		JAR:     jarResolver,
		Fetcher: fetcher,

		AllowedOrigins: c.Web.AllowedOrigins,
		AllowedHeaders: c.Web.AllowedHeaders,

		AllowHTTPRedirect:  c.AllowHTTPRedirect,
		AllowNoneAlgorithm: c.AllowNoneAlgorithm,
		RequirePAR:         c.RequirePAR,
		AllowPublicClients: c.AllowPublicClients,

		SessionTTL:   sessionTTL,
		CodeTTL:      codeTTL,
		PARTTL:       parTTL,
		ChallengeTTL: challengeTTL,

		IDTokenValidFor:     idTokenFor,
		AccessTokenValidFor: accessTokenFor,

		UIURL: c.UIURL,

		Now: now,

		Logger: logger,

		PrometheusRegistry: prometheusRegistry,
		HealthChecker:      healthChecker,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %v", err)
	}

	var gr run.Group

	if c.Web.HTTP != "" {
		httpSrv := &http.Server{Addr: c.Web.HTTP, Handler: srv}
		defer httpSrv.Close()
		if err := newServerRunner("http", httpSrv, logger).RunAndShutdownGracefully(&gr); err != nil {
			return err
		}
	}

	if c.Web.HTTPS != "" {
		httpsSrv := &http.Server{
			Addr:    c.Web.HTTPS,
			Handler: srv,
			TLSConfig: &tls.Config{
				CipherSuites:             allowedTLSCiphers,
				PreferServerCipherSuites: true,
				MinVersion:               tls.VersionTLS12,
			},
		}
		defer httpsSrv.Close()
		runner := newServerRunner("https", httpsSrv, logger).WithTLS(c.Web.TLSCert, c.Web.TLSKey)
		if err := runner.RunAndShutdownGracefully(&gr); err != nil {
			return err
		}
	}

	if c.Telemetry.HTTP != "" {
		telemetrySrv := &http.Server{Addr: c.Telemetry.HTTP, Handler: srv}
		defer telemetrySrv.Close()
		if err := newServerRunner("http/telemetry", telemetrySrv, logger).RunAndShutdownGracefully(&gr); err != nil {
			return err
		}
	}

	gr.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))
	if err := gr.Run(); err != nil {
		if _, ok := err.(run.SignalError); ok {
			logger.Info("shutting down", "reason", err)
			return nil
		}
		return err
	}
	return nil
}

// staticClientStore converts the config file's client list into a
// storage.ClientStore, hashing or accepting plaintext secrets exactly as
// dexidp/dex's own password.UnmarshalJSON chooses between a bcrypt hash
// and a plaintext value.
func staticClientStore(configured []StaticClient) (storage.ClientStore, error) {
	clients := make([]storage.ClientMetadata, 0, len(configured))
	for _, sc := range configured {
		if sc.ID == "" {
			return nil, fmt.Errorf("static client missing id")
		}
		cm := storage.ClientMetadata{
			ID:                                sc.ID,
			ClientSecret:                      sc.Secret,
			RedirectURIs:                      sc.RedirectURIs,
			IsTrusted:                         sc.Trusted,
			SkipConsent:                       sc.SkipConsent,
			Public:                            sc.Public,
			JWKSURI:                           sc.JWKSURI,
			AuthorizationSignedResponseAlg:    sc.AuthSignedRespAlg,
			AuthorizationEncryptedResponseAlg: sc.AuthEncRespAlg,
			AuthorizationEncryptedResponseEnc: sc.AuthEncRespEnc,
		}
		if sc.SecretHashFromEnv != "" {
			hash := os.Getenv(sc.SecretHashFromEnv)
			if hash == "" {
				return nil, fmt.Errorf("static client %q: secretHashFromEnv %q is unset", sc.ID, sc.SecretHashFromEnv)
			}
			cm.ClientSecretHash = []byte(hash)
			cm.ClientSecret = ""
		}
		if !sc.Public && cm.ClientSecret == "" && len(cm.ClientSecretHash) == 0 {
			return nil, fmt.Errorf("static client %q: secret or secretHashFromEnv is required for a confidential client", sc.ID)
		}
		clients = append(clients, cm)
	}
	return storage.WithStaticClients(clients), nil
}

// serverRunner wraps an *http.Server so it can be registered with an
// oklog/run.Group and shut down gracefully alongside its siblings.
type serverRunner struct {
	name string
	srv  *http.Server

	tlsCrt, tlsKey string

	logger *slog.Logger
}

func newServerRunner(name string, srv *http.Server, logger *slog.Logger) *serverRunner {
	return &serverRunner{name: name, srv: srv, logger: logger}
}

func (s *serverRunner) WithTLS(crt, key string) *serverRunner {
	s.tlsCrt = crt
	s.tlsKey = key
	return s
}

func (s *serverRunner) run(listener net.Listener) error {
	if s.tlsCrt != "" && s.tlsKey != "" {
		return s.srv.ServeTLS(listener, s.tlsCrt, s.tlsKey)
	}
	return s.srv.Serve(listener)
}

func (s *serverRunner) RunAndShutdownGracefully(gr *run.Group) error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening (%s) on %s: %v", s.name, s.srv.Addr, err)
	}

	gr.Add(func() error {
		s.logger.Info("listening", "server", s.name, "addr", s.srv.Addr)
		err := s.run(listener)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		s.logger.Debug("starting graceful shutdown", "server", s.name)
		if err := s.srv.Shutdown(ctx); err != nil {
			s.logger.Error("graceful shutdown failed", "server", s.name, "err", err)
		}
	})
	return nil
}
