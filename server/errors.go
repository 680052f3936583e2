package server

// Error codes observed by the authorization endpoint (spec §4.9, §7).
const (
	errInvalidRequest          = "invalid_request"
	errInvalidRequestObject    = "invalid_request_object"
	errInvalidRequestURI       = "invalid_request_uri"
	errRequestURINotSupported  = "request_uri_not_supported"
	errInvalidClient           = "invalid_client"
	errInvalidScope            = "invalid_scope"
	errUnsupportedResponseType = "unsupported_response_type"
	errLoginRequired           = "login_required"
	errConsentRequired         = "consent_required"
	errAccountSelectionReq     = "account_selection_required"
	errAccessDenied            = "access_denied"
	errServerError             = "server_error"
)

// Safe error messages for user-facing HTML responses. Intentionally
// generic; the specific cause is always logged server-side first.
const (
	ErrMsgInternalServerError = "Internal server error. Please contact your administrator or try again later."
	ErrMsgInvalidRequest      = "Invalid request. Please try again."
	ErrMsgUnknownClient       = "Unknown or unregistered client."
	ErrMsgBadRedirectURI      = "The redirect_uri is missing or not registered for this client."
)
