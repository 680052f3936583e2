package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dexidp/dex/storage"
)

// displayedAuthErr is surfaced as JSON or an HTML error page — used for the
// pre-redirect-validated failures of spec §4.9: unknown client, missing or
// unregistered redirect_uri, and missing response_type/client_id before any
// UI URL redirect is attempted.
type displayedAuthErr struct {
	Status      int
	JSON        bool
	Code        string
	Description string
}

func (e *displayedAuthErr) Error() string { return e.Description }

func newDisplayedErr(status int, code, format string, a ...interface{}) *displayedAuthErr {
	return &displayedAuthErr{Status: status, Code: code, Description: fmt.Sprintf(format, a...)}
}

func newDisplayedJSONErr(status int, code, format string, a ...interface{}) *displayedAuthErr {
	return &displayedAuthErr{Status: status, JSON: true, Code: code, Description: fmt.Sprintf(format, a...)}
}

// redirectedAuthErr is surfaced by redirecting to the client in whichever
// mode (and JARM-ness) the request asked for, per spec §4.9's
// "post-redirect-validated" class.
type redirectedAuthErr struct {
	Client       storage.ClientMetadata
	RedirectURI  string
	ResponseMode string
	ResponseType []string
	State        string
	Code         string
	Description  string
}

func (e *redirectedAuthErr) Error() string { return e.Description }

func newRedirectedErr(client storage.ClientMetadata, redirectURI, responseMode string, responseType []string, state, code, format string, a ...interface{}) *redirectedAuthErr {
	return &redirectedAuthErr{
		Client:       client,
		RedirectURI:  redirectURI,
		ResponseMode: responseMode,
		ResponseType: responseType,
		State:        state,
		Code:         code,
		Description:  fmt.Sprintf(format, a...),
	}
}

// writeError is the single emission function spec §7 calls for: it decides
// surface based on the concrete error type produced by the parser,
// validator, or orchestrator.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	switch e := err.(type) {
	case *displayedAuthErr:
		s.writeDisplayedErr(w, r, e)
	case *redirectedAuthErr:
		s.writeRedirectedErr(ctx, w, r, e)
	default:
		s.logger.ErrorContext(ctx, "unhandled authorization error", "err", err)
		s.writeDisplayedErr(w, r, newDisplayedJSONErr(http.StatusInternalServerError, errServerError, "%s", ErrMsgInternalServerError))
	}
}

func (s *Server) writeDisplayedErr(w http.ResponseWriter, r *http.Request, e *displayedAuthErr) {
	status := e.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	if e.JSON {
		body, _ := json.Marshal(struct {
			Error       string `json:"error"`
			Description string `json:"error_description,omitempty"`
		}{e.Code, e.Description})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
		return
	}
	if err := s.templates.err(w, r, status, e.Description); err != nil {
		s.logger.ErrorContext(r.Context(), "render error template", "err", err)
	}
}

func (s *Server) writeRedirectedErr(ctx context.Context, w http.ResponseWriter, r *http.Request, e *redirectedAuthErr) {
	variant, jarm, err := resolveVariant(e.ResponseMode, e.ResponseType)
	if err != nil {
		// response_mode was already validated by the time a redirectable
		// error can occur; an error here means the mode itself was the
		// fault, so fall back to the protocol default for code flow.
		variant, jarm = variantQuery, false
	}

	params := url.Values{}
	params.Set("error", e.Code)
	if e.Description != "" {
		params.Set("error_description", e.Description)
	}
	if e.State != "" {
		params.Set("state", e.State)
	}

	if emitErr := s.emit(ctx, w, r, e.Client, e.RedirectURI, variant, jarm, params); emitErr != nil {
		s.logger.ErrorContext(ctx, "failed to emit redirected error", "err", emitErr)
		s.writeDisplayedErr(w, r, newDisplayedJSONErr(http.StatusInternalServerError, errServerError, "%s", ErrMsgInternalServerError))
	}
}
