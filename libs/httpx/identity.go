package httpx

import "net/http"

// Headers the gateway sets after verifying an access token. Downstream
// services trust them only because the gateway strips client-supplied copies.
const (
	HeaderUserID    = "X-User-Id"
	HeaderRole      = "X-Role"
	HeaderSessionID = "X-Session-Id"
)

var identityHeaders = []string{HeaderUserID, HeaderRole, HeaderSessionID}

// StripIdentity removes any identity headers a client tried to set.
func StripIdentity(h http.Header) {
	for _, k := range identityHeaders {
		h.Del(k)
	}
}

// Identity is the caller as asserted by the gateway.
type Identity struct {
	UserID    string
	Role      string
	SessionID string
}

func IdentityFromRequest(r *http.Request) (Identity, bool) {
	id := Identity{
		UserID:    r.Header.Get(HeaderUserID),
		Role:      r.Header.Get(HeaderRole),
		SessionID: r.Header.Get(HeaderSessionID),
	}
	return id, id.UserID != "" && id.Role != ""
}

func SetIdentity(h http.Header, id Identity) {
	StripIdentity(h)
	h.Set(HeaderUserID, id.UserID)
	h.Set(HeaderRole, id.Role)
	if id.SessionID != "" {
		h.Set(HeaderSessionID, id.SessionID)
	}
}
