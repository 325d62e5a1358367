package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) (*Provider, *rsa.PrivateKey, string, func()) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	const kid = "test-kid"
	jwk := JWK{
		Kty: "RSA",
		Kid: kid,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big64(key.PublicKey.E)),
	}

	mux := http.NewServeMux()
	var issuer, jwksURI, tokenEndpoint string

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(DiscoveryDocument{
			Issuer:        issuer,
			JWKSURI:       jwksURI,
			TokenEndpoint: tokenEndpoint,
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(JWKS{Keys: []JWK{jwk}})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "m2m-token-abc"})
	})

	srv := httptest.NewServer(mux)
	issuer = srv.URL
	jwksURI = srv.URL + "/jwks"
	tokenEndpoint = srv.URL + "/token"

	p := NewProvider(srv.URL+"/.well-known/openid-configuration", "test-client", "test-secret")
	return p, key, kid, srv.Close
}

func big64(e int) []byte {
	b := make([]byte, 0, 4)
	v := e
	for v > 0 {
		b = append([]byte{byte(v & 0xff)}, b...)
		v >>= 8
	}
	if len(b) == 0 {
		b = []byte{0}
	}
	return b
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid, issuer, audience string, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Subject: "peer-node-b",
		Issuer:  issuer,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestProviderInitializeAndValidateToken(t *testing.T) {
	p, key, kid, closeSrv := newTestProvider(t)
	defer closeSrv()

	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))

	token := signToken(t, key, kid, p.doc.Issuer, "test-client", time.Now().Add(time.Hour))

	claims, err := p.ValidateToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "peer-node-b", claims.Subject)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	p, key, kid, closeSrv := newTestProvider(t)
	defer closeSrv()

	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))

	token := signToken(t, key, kid, p.doc.Issuer, "test-client", time.Now().Add(-time.Hour))

	_, err := p.ValidateToken(ctx, token)
	require.Error(t, err)
}

func TestValidateTokenRejectsWrongAudience(t *testing.T) {
	p, key, kid, closeSrv := newTestProvider(t)
	defer closeSrv()

	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))

	token := signToken(t, key, kid, p.doc.Issuer, "some-other-client", time.Now().Add(time.Hour))

	_, err := p.ValidateToken(ctx, token)
	require.Error(t, err)
}

func TestGetClientCredentialsToken(t *testing.T) {
	p, _, _, closeSrv := newTestProvider(t)
	defer closeSrv()

	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))

	tok, err := p.GetClientCredentialsToken(ctx, "sync")
	require.NoError(t, err)
	require.Equal(t, "m2m-token-abc", tok)
}
