// Command jwks-to-pem prints the Supabase ES256 signing key as a PEM public
// key, the format SUPABASE_JWT_SECRET takes for asymmetric projects.
package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"
)

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Alg string `json:"alg"`
}

func main() {
	base := flag.String("url", envOr("SUPABASE_URL", "http://127.0.0.1:54321"), "Supabase project URL")
	kid := flag.String("kid", "", "key id to export (default: first ES256 key)")
	flag.Parse()

	pemBytes, err := run(strings.TrimRight(*base, "/")+"/auth/v1/.well-known/jwks.json", *kid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jwks-to-pem: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(pemBytes))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(url, kid string) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching JWKS: unexpected status %s", resp.Status)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("parsing JWKS: %w", err)
	}
	key, err := pick(set.Keys, kid)
	if err != nil {
		return nil, err
	}
	return toPEM(key)
}

func pick(keys []jwk, kid string) (jwk, error) {
	for _, k := range keys {
		if k.Kty != "EC" || k.Alg != "ES256" {
			continue
		}
		if kid == "" || k.Kid == kid {
			return k, nil
		}
	}
	if kid != "" {
		return jwk{}, fmt.Errorf("no ES256 key with kid %q", kid)
	}
	return jwk{}, errors.New("no ES256 key in JWKS")
}

func toPEM(k jwk) ([]byte, error) {
	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("decoding x coordinate: %w", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("decoding y coordinate: %w", err)
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
