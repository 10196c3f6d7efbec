package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// Credential headers.
const (
	HeaderAuthToken   = "X-Auth-Token"
	HeaderUserToken   = "X-User-Token"
	HeaderMFAToken    = "X-MFA-Token"
	HeaderAccessToken = "X-Access-Token"
	HeaderACLToken    = "X-ACL-Token"
)

// Credentials copies the credential headers and the client IP into the
// request context, where the Engine services look for them. It never
// rejects a request; use Require for that.
//
// An "Authorization: Bearer" header is accepted as the authToken when
// X-Auth-Token is absent.
func Credentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := goIdentity.WithClientIP(r.Context(), ClientIP(r))

		auth := r.Header.Get(HeaderAuthToken)
		if auth == "" {
			auth, _ = bearerToken(r.Header.Get("Authorization"))
		}
		if auth != "" {
			ctx = goIdentity.WithAuthToken(ctx, auth)
		}
		if v := r.Header.Get(HeaderUserToken); v != "" {
			ctx = goIdentity.WithUserToken(ctx, v)
		}
		if v := r.Header.Get(HeaderAccessToken); v != "" {
			ctx = goIdentity.WithAccessToken(ctx, v)
		}
		if v := r.Header.Get(HeaderACLToken); v != "" {
			ctx = goIdentity.WithACLToken(ctx, v)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require rejects requests missing any of headers with 401 before they
// reach the Engine. The Authorization bearer form satisfies
// HeaderAuthToken.
func Require(headers ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range headers {
				if present(r, h) {
					continue
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{
						"code":    goIdentity.CodeUnvalidToken,
						"message": "missing " + h,
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MFAToken returns the mfaToken header. Users.LogInTOTP takes it as an
// argument rather than from the context.
func MFAToken(r *http.Request) string {
	return r.Header.Get(HeaderMFAToken)
}

// ClientIP returns the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func present(r *http.Request, header string) bool {
	if r.Header.Get(header) != "" {
		return true
	}
	if header == HeaderAuthToken {
		_, ok := bearerToken(r.Header.Get("Authorization"))
		return ok
	}
	return false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
