package auth

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ILLUVRSE/dispatch/internal/config"
)

const DebugTokenHeader = "X-Debug-Token"

var ErrUnauthorized = errors.New("unauthorized")

// Verifier authorizes write requests: a Bearer JWT signed by one of the
// configured keys and carrying the write scope, or the debug token when the
// deployment allows it.
type Verifier struct {
	scope           string
	allowDebugToken bool
	debugToken      string
	keys            []interface{}
}

func NewVerifier(cfg config.Config) (*Verifier, error) {
	v := &Verifier{
		scope:           cfg.WriteScope,
		allowDebugToken: cfg.AllowDebugToken,
		debugToken:      cfg.DebugToken,
	}
	if cfg.AuthKeysFile != "" {
		data, err := os.ReadFile(cfg.AuthKeysFile)
		if err != nil {
			return nil, fmt.Errorf("read auth keys: %w", err)
		}
		keys, err := ParsePublicKeys(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.AuthKeysFile, err)
		}
		v.keys = keys
	}
	return v, nil
}

// ParsePublicKeys reads every PUBLIC KEY or CERTIFICATE block in data.
// Other blocks are skipped.
func ParsePublicKeys(data []byte) ([]interface{}, error) {
	var keys []interface{}
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
			keys = append(keys, key)
			continue
		}
		if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
			keys = append(keys, cert.PublicKey)
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("no public keys found")
	}
	return keys, nil
}

// Enabled reports whether any credential could ever be accepted.
func (v *Verifier) Enabled() bool {
	return len(v.keys) > 0 || v.allowDebugToken
}

func (v *Verifier) VerifyRequest(r *http.Request) error {
	if v.allowDebugToken {
		if token := r.Header.Get(DebugTokenHeader); token != "" {
			if token == v.debugToken {
				return nil
			}
			return fmt.Errorf("%w: debug token mismatch", ErrUnauthorized)
		}
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return fmt.Errorf("%w: bearer token required", ErrUnauthorized)
	}
	return v.verifyToken(strings.TrimPrefix(header, "Bearer "))
}

func (v *Verifier) verifyToken(raw string) error {
	if len(v.keys) == 0 {
		return fmt.Errorf("%w: no verification keys configured", ErrUnauthorized)
	}
	var (
		token *jwt.Token
		err   error
	)
	for _, key := range v.keys {
		token, err = jwt.Parse(raw, func(*jwt.Token) (interface{}, error) { return key, nil },
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "EdDSA"}))
		if err == nil && token.Valid {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("%w: invalid claims", ErrUnauthorized)
	}
	if !hasScope(claims, v.scope) {
		return fmt.Errorf("%w: missing required scope %q", ErrUnauthorized, v.scope)
	}
	return nil
}

// hasScope accepts a space separated "scope" claim or a "roles" array.
func hasScope(claims jwt.MapClaims, want string) bool {
	if scope, ok := claims["scope"].(string); ok {
		for _, s := range strings.Fields(scope) {
			if s == want {
				return true
			}
		}
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}
