package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/dexidp/dex/pkg/otel/traces"
)

// handleKeys serves the JWKS used to verify ID tokens, access tokens, and
// JARM responses this core mints, grounded on dexidp/dex's
// handlePublicKeys: the active signing key first, retained verification
// keys after, cached with a fixed two-minute max-age.
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	ctx, span := traces.InstrumentHandler(r)
	defer span.End()

	keys, err := s.signer.ValidationKeys(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to get validation keys", "err", err)
		s.writeDisplayedErr(w, r, newDisplayedJSONErr(http.StatusInternalServerError, errServerError, "%s", ErrMsgInternalServerError))
		return
	}

	jwks := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, len(keys))}
	for i, k := range keys {
		jwks.Keys[i] = *k
	}

	data, err := json.MarshalIndent(jwks, "", "  ")
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to marshal jwks", "err", err)
		s.writeDisplayedErr(w, r, newDisplayedJSONErr(http.StatusInternalServerError, errServerError, "%s", ErrMsgInternalServerError))
		return
	}

	maxAge := 2 * time.Minute
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d, must-revalidate", int(maxAge.Seconds())))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
