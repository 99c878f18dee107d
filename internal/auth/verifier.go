// internal/auth/verifier.go
package auth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/argon2"
)

// ErrBadCredentials is the single failure the verifiers report. Which part
// of the chain broke is never distinguishable from the outside.
var ErrBadCredentials = errors.New("credential verification failed")

// CredentialVerifier checks a long-term-credential challenge response and,
// on success, returns the shared secret the caller caches for message
// integrity. The binding responder stays agnostic of the hash scheme the
// identity store uses.
type CredentialVerifier interface {
	VerifyDigest(ctx context.Context, username, realm, nonce, response string) (string, error)
}

// WordPressVerifier implements the legacy digest chain the game client
// computes over the stored WordPress password hash: the stored hash itself
// acts as the shared secret on both sides.
type WordPressVerifier struct {
	Source CredentialSource
}

// VerifyDigest implements CredentialVerifier.
func (v WordPressVerifier) VerifyDigest(ctx context.Context, username, realm, nonce, response string) (string, error) {
	cred, err := v.Source.LookupCredential(ctx, username)
	if err != nil {
		return "", ErrBadCredentials
	}
	if digestResponse(username, realm, cred, nonce) != response {
		return "", ErrBadCredentials
	}
	return cred, nil
}

// Argon2Verifier stretches the stored credential into the shared secret
// before running the same digest chain, for deployments whose store holds
// short provisioning keys instead of legacy WordPress hashes.
type Argon2Verifier struct {
	Source CredentialSource
}

// VerifyDigest implements CredentialVerifier.
func (v Argon2Verifier) VerifyDigest(ctx context.Context, username, realm, nonce, response string) (string, error) {
	cred, err := v.Source.LookupCredential(ctx, username)
	if err != nil {
		return "", ErrBadCredentials
	}
	secret := hex.EncodeToString(argon2.IDKey([]byte(cred), []byte(realm), 1, 64*1024, 4, 32))
	if digestResponse(username, realm, secret, nonce) != response {
		return "", ErrBadCredentials
	}
	return secret, nil
}

// digestResponse computes the chain the client must reproduce: ha1 binds
// the identity to the shared secret, ha2 binds the method to the nonce,
// and the outer digest combines both.
func digestResponse(username, realm, secret, nonce string) string {
	ha1 := md5hex(username + ":" + realm + ":" + secret)
	ha2 := md5hex("STUN:" + nonce)
	return md5hex(ha1 + ":" + nonce + ":" + ha2)
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
