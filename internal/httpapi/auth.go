package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"
)

const (
	tokenAudience      = "externalredirect"
	scopeRedirectsRead = "redirects:read"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

func unauthorized(message string) *authError {
	return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: message}
}

func forbidden(message string) *authError {
	return &authError{status: http.StatusForbidden, code: "forbidden", message: message}
}

// claimList decodes a claim given either as a JSON array of strings or as a
// single space separated string.
type claimList []string

func (l *claimList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = strings.Fields(single)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// readerClaims are the claims of a token allowed on the redirect read API.
type readerClaims struct {
	Subject  string      `json:"sub"`
	Audience claimList   `json:"aud"`
	Scopes   claimList   `json:"scopes"`
	Expires  json.Number `json:"exp"`
}

func (c readerClaims) validate(now time.Time, requiredScope string) *authError {
	exp, err := c.Expires.Float64()
	if err != nil {
		return unauthorized("invalid exp claim")
	}
	if now.Unix() >= int64(exp) {
		return unauthorized("token expired")
	}
	if !slices.Contains(c.Audience, tokenAudience) {
		return unauthorized("invalid aud claim")
	}
	if len(c.Scopes) == 0 {
		return forbidden("no scopes granted")
	}
	if requiredScope != "" && !slices.Contains(c.Scopes, requiredScope) {
		return forbidden("missing required scope: " + requiredScope)
	}
	return nil
}

func authorizeBearer(authHeader, jwtSecret, requiredScope string, now time.Time) (readerClaims, *authError) {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return readerClaims{}, unauthorized("missing or invalid bearer token")
	}
	claims, authErr := decodeToken(strings.TrimSpace(token), jwtSecret)
	if authErr != nil {
		return readerClaims{}, authErr
	}
	if authErr := claims.validate(now, requiredScope); authErr != nil {
		return readerClaims{}, authErr
	}
	return claims, nil
}

// decodeToken checks the HS256 signature of a compact JWT and decodes its
// payload. Claim values are not validated here.
func decodeToken(token, jwtSecret string) (readerClaims, *authError) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return readerClaims{}, unauthorized("invalid jwt format")
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := decodeSegment(parts[0], &header); err != nil {
		return readerClaims{}, unauthorized("invalid jwt header")
	}
	if header.Alg != "HS256" {
		return readerClaims{}, unauthorized("unsupported jwt algorithm")
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return readerClaims{}, unauthorized("invalid jwt signature")
	}
	mac := hmac.New(sha256.New, []byte(jwtSecret))
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return readerClaims{}, unauthorized("jwt signature mismatch")
	}
	var claims readerClaims
	if err := decodeSegment(parts[1], &claims); err != nil {
		return readerClaims{}, unauthorized("invalid jwt payload")
	}
	return claims, nil
}

func decodeSegment(segment string, dst any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dst)
}

// verifyInternalHMAC checks a hex HMAC-SHA256 over "timestamp\nbody" and
// that the RFC3339 timestamp lies within maxSkew of now.
func verifyInternalHMAC(secret, timestamp, signature string, body []byte, now time.Time, maxSkew time.Duration) *authError {
	if timestamp == "" || signature == "" {
		return unauthorized("missing internal auth headers")
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return unauthorized("invalid internal timestamp")
	}
	if now.Sub(ts).Abs() > maxSkew {
		return unauthorized("internal request outside replay window")
	}
	expected := signInternal(secret, timestamp, body)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return unauthorized("internal signature mismatch")
	}
	return nil
}

func signInternal(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp + "\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
