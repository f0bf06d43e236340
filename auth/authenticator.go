package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/cfxrouter/gateway/types"
)

// ErrorKind classifies why authentication failed. All kinds surface as HTTP
// 401 at the handler layer; the kind only affects logging detail.
type ErrorKind string

const (
	ErrKindMissing   ErrorKind = "missing"
	ErrKindBadFormat ErrorKind = "bad_format"
	ErrKindRevoked   ErrorKind = "revoked"
	ErrKindNotFound  ErrorKind = "not_found"
)

// AuthError is returned by Authenticate on any failure to resolve a
// Principal from the Authorization header.
type AuthError struct {
	Kind ErrorKind
}

func (e *AuthError) Error() string {
	return "authentication failed: " + string(e.Kind)
}

// devUserID is the synthesized principal used when no KeyStore is
// configured (development mode): any well-formed token is accepted.
const devUserID = "dev-user"

// tokenFormat matches "<prefix>_<secret>": a 2-10 char alphanumeric prefix,
// an underscore, then at least 16 alphanumeric characters.
var tokenFormat = regexp.MustCompile(`^[A-Za-z0-9]{2,10}_[A-Za-z0-9]{16,}$`)

// Authenticator resolves an Authorization header into a Principal. A nil
// Store puts the authenticator in development mode.
type Authenticator struct {
	Store  KeyStore
	Salt   string
	Logger *zap.Logger
}

// New builds an Authenticator. store may be nil for development mode.
func New(store KeyStore, salt string, logger *zap.Logger) *Authenticator {
	return &Authenticator{Store: store, Salt: salt, Logger: logger}
}

// Authenticate implements the contract of the gateway's authenticator:
// parse the bearer credential, validate its surface format, hash and look
// it up, and return the resolved Principal.
func (a *Authenticator) Authenticate(ctx context.Context, authorizationHeader string) (types.Principal, error) {
	token, err := extractBearerToken(authorizationHeader)
	if err != nil {
		return types.Principal{}, err
	}

	if !tokenFormat.MatchString(token) {
		return types.Principal{}, &AuthError{Kind: ErrKindBadFormat}
	}
	prefix := keyPrefix(token)

	if a.Store == nil {
		return types.Principal{UserID: devUserID, KeyPrefix: prefix}, nil
	}

	hash := a.hashToken(token)
	key, found, err := a.Store.Lookup(ctx, hash)
	if err != nil {
		a.Logger.Error("keystore lookup failed", zap.Error(err))
		return types.Principal{}, &AuthError{Kind: ErrKindNotFound}
	}
	if !found {
		return types.Principal{}, &AuthError{Kind: ErrKindNotFound}
	}
	if key.Status != StatusActive && key.Status != StatusAdmin {
		return types.Principal{}, &AuthError{Kind: ErrKindRevoked}
	}

	go a.touch(key.ID)

	return types.Principal{
		UserID:    key.UserID,
		APIKeyID:  &key.ID,
		KeyPrefix: prefix,
		IsAdmin:   key.Status == StatusAdmin,
	}, nil
}

func (a *Authenticator) hashToken(token string) string {
	sum := sha256.Sum256([]byte(a.Salt + ":" + token))
	return hex.EncodeToString(sum[:])
}

// touch fire-and-forgets the last_used_at update; failures are logged, never
// surfaced to the caller of Authenticate.
func (a *Authenticator) touch(id int64) {
	if err := a.Store.Touch(context.Background(), id); err != nil {
		a.Logger.Warn("failed to update api key last_used_at", zap.Int64("key_id", id), zap.Error(err))
	}
}

// keyPrefix derives the redacted form stored for audit: "<prefix>_<first 4
// chars of the secret>", e.g. "cfx_ab12" from "cfx_ab12cdefghijklmnopqr".
func keyPrefix(token string) string {
	sep := strings.IndexByte(token, '_')
	prefix, secret := token[:sep], token[sep+1:]
	if len(secret) < 4 {
		return token
	}
	return prefix + "_" + secret[:4]
}

// extractBearerToken parses "Bearer <token>" with a case-insensitive
// scheme, trimming surrounding whitespace.
func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", &AuthError{Kind: ErrKindMissing}
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", &AuthError{Kind: ErrKindMissing}
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", &AuthError{Kind: ErrKindMissing}
	}
	return token, nil
}

// constantTimeEqual compares two strings in constant time. Nothing in the
// package calls it: Authenticate resolves the hash through KeyStore.Lookup,
// which matches it by ordinary equality (a map key or an indexed column).
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
