// Package auth implements the OIDC client-credentials and JWT-validation
// flow replication peers use to authenticate each other, ported from
// _examples/original_source/src/sync/auth.rs.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

// DiscoveryDocument is the subset of an OpenID Connect Discovery 1.0
// document this package needs.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// JWKS is a JSON Web Key Set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is a single JSON Web Key. Only RSA keys are supported.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Claims is the JWT claim set peers exchange.
type Claims struct {
	Subject string `json:"sub"`
	Issuer  string `json:"iss"`
	Scope   string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// GetIssuer reports the decoded "iss" claim. The outer Issuer field takes
// the "iss" key during JSON decoding, leaving RegisteredClaims.Issuer
// empty, so the issuer check in jwt.WithIssuer has to read it from here.
func (c Claims) GetIssuer() (string, error) {
	return c.Issuer, nil
}

// Provider holds OIDC discovery/JWKS state for one identity provider and
// validates/obtains tokens against it. Safe for concurrent use.
type Provider struct {
	discoveryURL string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu      sync.RWMutex
	doc     *DiscoveryDocument
	jwks    *JWKS
	jwksMap map[string]*rsa.PublicKey
}

// NewProvider builds a Provider. Initialize must be called before
// ValidateToken or GetClientCredentialsToken.
func NewProvider(discoveryURL, clientID, clientSecret string) *Provider {
	return &Provider{
		discoveryURL: discoveryURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Initialize fetches the discovery document and JWKS.
func (p *Provider) Initialize(ctx context.Context) error {
	if err := p.fetchDiscovery(ctx); err != nil {
		return err
	}
	if err := p.fetchJWKS(ctx); err != nil {
		return err
	}
	log.WithComponent("auth").Info().Str("issuer", p.doc.Issuer).Msg("OIDC provider initialized")
	return nil
}

func (p *Provider) fetchDiscovery(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.discoveryURL, nil)
	if err != nil {
		return vigilerr.Wrap(vigilerr.KindAuthFailed, "failed to build discovery request", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return vigilerr.Wrap(vigilerr.KindAuthFailed, "failed to fetch OIDC discovery document", err)
	}
	defer resp.Body.Close()

	var doc DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return vigilerr.Wrap(vigilerr.KindAuthFailed, "failed to parse OIDC discovery document", err)
	}

	p.mu.Lock()
	p.doc = &doc
	p.mu.Unlock()
	return nil
}

// fetchJWKS fetches and indexes the provider's signing keys by kid.
func (p *Provider) fetchJWKS(ctx context.Context) error {
	p.mu.RLock()
	doc := p.doc
	p.mu.RUnlock()
	if doc == nil {
		return vigilerr.New(vigilerr.KindAuthFailed, "discovery document not loaded; call Initialize first")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.JWKSURI, nil)
	if err != nil {
		return vigilerr.Wrap(vigilerr.KindAuthFailed, "failed to build JWKS request", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return vigilerr.Wrap(vigilerr.KindAuthFailed, "failed to fetch JWKS", err)
	}
	defer resp.Body.Close()

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return vigilerr.Wrap(vigilerr.KindAuthFailed, "failed to parse JWKS", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k)
		if err != nil {
			log.WithComponent("auth").Warn().Err(err).Str("kid", k.Kid).Msg("skipping unparseable JWK")
			continue
		}
		keys[k.Kid] = pub
	}

	p.mu.Lock()
	p.jwks = &jwks
	p.jwksMap = keys
	p.mu.Unlock()
	return nil
}

// RefreshJWKS re-fetches the JWKS, used after a kid-miss during validation.
func (p *Provider) RefreshJWKS(ctx context.Context) error {
	log.WithComponent("auth").Warn().Msg("refreshing JWKS")
	return p.fetchJWKS(ctx)
}

func rsaPublicKeyFromJWK(k JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// ValidateToken validates tokenString's signature, issuer, audience, and
// expiry against the provider's loaded JWKS, retrying once against a
// refreshed JWKS on a kid miss.
func (p *Provider) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := p.validateOnce(tokenString)
	if err == errKidMiss {
		if refreshErr := p.RefreshJWKS(ctx); refreshErr != nil {
			return nil, vigilerr.Wrap(vigilerr.KindAuthFailed, "JWKS refresh failed after kid miss", refreshErr)
		}
		claims, err = p.validateOnce(tokenString)
	}
	if err != nil {
		if err == errKidMiss {
			return nil, vigilerr.New(vigilerr.KindKeyIDUnknown, "no matching key found in JWKS after refresh")
		}
		return nil, vigilerr.Wrap(vigilerr.KindAuthFailed, "token validation failed", err)
	}
	return claims, nil
}

var errKidMiss = fmt.Errorf("kid not found in JWKS")

func (p *Provider) validateOnce(tokenString string) (*Claims, error) {
	p.mu.RLock()
	doc := p.doc
	keys := p.jwksMap
	p.mu.RUnlock()

	if doc == nil || keys == nil {
		return nil, fmt.Errorf("provider not initialized")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("JWT header missing kid")
		}
		key, ok := keys[kid]
		if !ok {
			return nil, errKidMiss
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(doc.Issuer),
		jwt.WithAudience(p.clientID),
	)
	if err != nil {
		if strings.Contains(err.Error(), errKidMiss.Error()) {
			return nil, errKidMiss
		}
		return nil, err
	}
	return claims, nil
}

// GetClientCredentialsToken obtains a machine-to-machine access token via
// the client_credentials grant.
func (p *Provider) GetClientCredentialsToken(ctx context.Context, scope string) (string, error) {
	p.mu.RLock()
	doc := p.doc
	p.mu.RUnlock()
	if doc == nil {
		return "", vigilerr.New(vigilerr.KindAuthFailed, "discovery document not loaded; call Initialize first")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)
	if scope != "" {
		form.Set("scope", scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", vigilerr.Wrap(vigilerr.KindAuthFailed, "failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", vigilerr.Wrap(vigilerr.KindAuthFailed, "failed to request client credentials token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", vigilerr.New(vigilerr.KindAuthFailed, fmt.Sprintf("token request failed with status %d", resp.StatusCode))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", vigilerr.Wrap(vigilerr.KindAuthFailed, "failed to parse token response", err)
	}
	if tokenResp.AccessToken == "" {
		return "", vigilerr.New(vigilerr.KindAuthFailed, "token response missing access_token field")
	}
	return tokenResp.AccessToken, nil
}
