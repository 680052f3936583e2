package main

import (
	"fmt"
	"strings"
	"time"
)

// Config is the config file format for the authzcore server binary. Field
// names mirror the recognized configuration surface of spec §6
// (issuer_url, allow_http_redirect, enable_https_request_uri + allowed
// domains/timeout/size limit, allow_none_algorithm, require_par,
// allow_public_clients, the four TTLs, ui_url), generalized from
// dexidp/dex's own cmd/dex/config.go JSON-tagged Config struct.
type Config struct {
	Issuer string `json:"issuer"`

	Web       Web       `json:"web"`
	Telemetry Telemetry `json:"telemetry"`
	Logger    Logger    `json:"logger"`

	AllowHTTPRedirect  bool `json:"allowHTTPRedirect"`
	AllowNoneAlgorithm bool `json:"allowNoneAlgorithm"`
	RequirePAR         bool `json:"requirePAR"`
	AllowPublicClients bool `json:"allowPublicClients"`

	RequestURIFetch RequestURIFetch `json:"requestURIFetch"`

	Expiry Expiry `json:"expiry"`

	UIURL string `json:"uiURL"`

	// StaticClients cause the server to use this list of clients rather
	// than querying a backing store. Mirrors dex's StaticClients knob.
	StaticClients []StaticClient `json:"staticClients"`
}

// StaticClient is the config-file representation of a registered OAuth
// client, generalizing dex's storage.Client to this core's
// storage.ClientMetadata.
type StaticClient struct {
	ID                string   `json:"id"`
	Secret            string   `json:"secret"`
	SecretHashFromEnv string   `json:"secretHashFromEnv"`
	RedirectURIs      []string `json:"redirectURIs"`
	Public            bool     `json:"public"`
	Trusted           bool     `json:"trusted"`
	SkipConsent       bool     `json:"skipConsent"`
	JWKSURI           string   `json:"jwksURI"`
	AuthSignedRespAlg string   `json:"authorizationSignedResponseAlg"`
	AuthEncRespAlg    string   `json:"authorizationEncryptedResponseAlg"`
	AuthEncRespEnc    string   `json:"authorizationEncryptedResponseEnc"`
}

// RequestURIFetch configures the outbound HTTPS request_uri/jwks_uri
// fetcher (spec §4.1). Disabled unless Enabled is set; when it is,
// AllowedDomains must be non-empty.
type RequestURIFetch struct {
	Enabled        bool     `json:"enabled"`
	AllowedDomains []string `json:"allowedDomains"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
	MaxBytes       int64    `json:"maxBytes"`
}

// Web is the config format for the HTTP server.
type Web struct {
	HTTP           string   `json:"http"`
	HTTPS          string   `json:"https"`
	TLSCert        string   `json:"tlsCert"`
	TLSKey         string   `json:"tlsKey"`
	AllowedOrigins []string `json:"allowedOrigins"`
	AllowedHeaders []string `json:"allowedHeaders"`
}

// Telemetry is the config format for the metrics/health HTTP server.
type Telemetry struct {
	HTTP string `json:"http"`
}

// Logger holds configuration required to customize logging.
type Logger struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Expiry holds the four TTLs spec §6 names plus the ID token and access
// token lifetimes.
type Expiry struct {
	SessionTTL      string `json:"sessionTTL"`
	CodeTTL         string `json:"codeTTL"`
	PARTTL          string `json:"parTTL"`
	ChallengeTTL    string `json:"challengeTTL"`
	IDTokenValidFor string `json:"idTokenValidFor"`
	AccessTokenFor  string `json:"accessTokenValidFor"`
}

func (e Expiry) parse() (sessionTTL, codeTTL, parTTL, challengeTTL, idTokenFor, accessTokenFor time.Duration, err error) {
	parse := func(s string, dflt time.Duration) (time.Duration, error) {
		if s == "" {
			return dflt, nil
		}
		return time.ParseDuration(s)
	}
	if sessionTTL, err = parse(e.SessionTTL, time.Hour); err != nil {
		return
	}
	if codeTTL, err = parse(e.CodeTTL, 120*time.Second); err != nil {
		return
	}
	if parTTL, err = parse(e.PARTTL, 60*time.Second); err != nil {
		return
	}
	if challengeTTL, err = parse(e.ChallengeTTL, 600*time.Second); err != nil {
		return
	}
	if idTokenFor, err = parse(e.IDTokenValidFor, time.Hour); err != nil {
		return
	}
	accessTokenFor, err = parse(e.AccessTokenFor, time.Hour)
	return
}

// Validate performs the fast, responsive checks dex's own Config.Validate
// runs before anything expensive (opening stores, starting the signer).
func (c Config) Validate() error {
	checks := []struct {
		bad    bool
		errMsg string
	}{
		{c.Issuer == "", "no issuer specified in config file"},
		{c.Web.HTTP == "" && c.Web.HTTPS == "", "must supply a HTTP/HTTPS address to listen on"},
		{c.Web.HTTPS != "" && c.Web.TLSCert == "", "no cert specified for HTTPS"},
		{c.Web.HTTPS != "" && c.Web.TLSKey == "", "no private key specified for HTTPS"},
		{c.RequestURIFetch.Enabled && len(c.RequestURIFetch.AllowedDomains) == 0, "requestURIFetch.allowedDomains is required when requestURIFetch.enabled is true"},
	}

	var checkErrors []string
	for _, check := range checks {
		if check.bad {
			checkErrors = append(checkErrors, check.errMsg)
		}
	}
	if len(checkErrors) != 0 {
		return fmt.Errorf("invalid config:\n\t-\t%s", strings.Join(checkErrors, "\n\t-\t"))
	}
	return nil
}
