// Package jwtutil signs, verifies and decrypts the compact JOSE tokens
// exchanged within the federation. Verification keys are always resolved by
// kid through a caller supplied [KeyFunc], which keeps the cryptographic
// operations free of any other effect.
package jwtutil

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

var (
	ErrMissingKeyID       = errors.New("missing kid in protected header")
	ErrKeyNotFound        = errors.New("no key matching kid")
	ErrSignatureInvalid   = errors.New("invalid jws signature")
	ErrDecryptionFailed   = errors.New("could not decrypt jwe")
	ErrUnsupportedKeyType = errors.New("unsupported key type")
)

// The federation profile only admits RSA and EC signing keys.
var signatureAlgs = []jose.SignatureAlgorithm{jose.RS256, jose.ES256}

// User info responses are encrypted with the single default key management
// and content encryption algorithms of the profile.
var (
	keyEncAlgs     = []jose.KeyAlgorithm{jose.RSA_OAEP, jose.RSA_OAEP_256}
	contentEncAlgs = []jose.ContentEncryption{jose.A128CBC_HS256, jose.A256CBC_HS512}
)

// KeyFunc resolves a verification or decryption key by its kid.
type KeyFunc func(kid string) (jose.JSONWebKey, error)

// KeyFuncForSet returns a KeyFunc that searches jwks by kid.
func KeyFuncForSet(jwks jose.JSONWebKeySet) KeyFunc {
	return func(kid string) (jose.JSONWebKey, error) {
		for _, key := range jwks.Keys {
			if key.KeyID == kid {
				return key, nil
			}
		}
		return jose.JSONWebKey{}, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
}

// InferAlg maps a key type to its signature algorithm. RSA keys sign with
// RS256 and EC keys with ES256; anything else is rejected.
func InferAlg(jwk jose.JSONWebKey) (jose.SignatureAlgorithm, error) {
	switch jwk.Key.(type) {
	case *rsa.PrivateKey, *rsa.PublicKey:
		return jose.RS256, nil
	case *ecdsa.PrivateKey, *ecdsa.PublicKey:
		return jose.ES256, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedKeyType, jwk.Key)
	}
}

// Sign serializes claims as JSON and signs them with jwk, stamping the
// protected header with the inferred algorithm and the key's kid.
func Sign(claims any, jwk jose.JSONWebKey) (string, error) {
	return SignWithOptions(claims, jwk, nil)
}

// SignWithOptions is [Sign] with extra signer options, e.g. a typ header.
func SignWithOptions(claims any, jwk jose.JSONWebKey, opts *jose.SignerOptions) (string, error) {
	alg, err := InferAlg(jwk)
	if err != nil {
		return "", err
	}

	if opts == nil {
		opts = &jose.SignerOptions{}
	}
	if _, ok := opts.ExtraHeaders[jose.HeaderType]; !ok {
		opts = opts.WithType("JWT")
	}
	opts = opts.WithHeader("kid", jwk.KeyID)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: jwk.Key}, opts)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	jws, err := signer.Sign(payload)
	if err != nil {
		return "", err
	}

	return jws.CompactSerialize()
}

// Verify checks the signature of a compact JWS and returns its payload. The
// verification key is resolved by the kid of the protected header through
// keyFunc.
func Verify(signedJWT string, keyFunc KeyFunc) ([]byte, error) {
	jws, err := jose.ParseSigned(signedJWT, signatureAlgs)
	if err != nil {
		return nil, fmt.Errorf("could not parse the jws: %w", err)
	}

	kid := jws.Signatures[0].Header.KeyID
	if kid == "" {
		return nil, ErrMissingKeyID
	}

	jwk, err := keyFunc(kid)
	if err != nil {
		return nil, err
	}

	payload, err := jws.Verify(jwk)
	if err != nil {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}

	return payload, nil
}

// DecodeUnverified returns the payload of a compact JWS without checking its
// signature. It exists for the self-signed entity configuration, whose key
// set is embedded in the payload itself, and for the documented user info
// verification workaround. It must never back a trust decision.
func DecodeUnverified(signedJWT string) ([]byte, error) {
	jws, err := jose.ParseSigned(signedJWT, signatureAlgs)
	if err != nil {
		return nil, fmt.Errorf("could not parse the jws: %w", err)
	}
	return jws.UnsafePayloadWithoutVerification(), nil
}

// Decrypt resolves the decryption key by the kid of the JWE header and
// returns the plaintext. Any decryption failure is final; there is no
// fallback for undecryptable content.
func Decrypt(encryptedJWT string, keyFunc KeyFunc) ([]byte, error) {
	jwe, err := jose.ParseEncrypted(encryptedJWT, keyEncAlgs, contentEncAlgs)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}

	kid := jwe.Header.KeyID
	if kid == "" {
		return nil, ErrMissingKeyID
	}

	jwk, err := keyFunc(kid)
	if err != nil {
		return nil, err
	}

	plaintext, err := jwe.Decrypt(jwk.Key)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}

	return plaintext, nil
}
