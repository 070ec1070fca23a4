package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// ErrInvalidState is returned when a callback state fails verification.
var ErrInvalidState = errors.New("oauth: invalid state")

const (
	stateIssuer     = "invoicechat"
	DefaultStateTTL = 10 * time.Minute
)

// StateSigner issues and verifies the anti-forgery state value as a short-lived
// PASETO v4.public token, so no server-side state map is needed.
type StateSigner struct {
	ttl    time.Duration
	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewStateSigner builds a signer from a hex Ed25519 secret key. An empty key
// generates an ephemeral one, which invalidates in-flight logins on restart.
func NewStateSigner(secretKeyHex string, ttl time.Duration) (*StateSigner, error) {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	var secret paseto.V4AsymmetricSecretKey
	if secretKeyHex == "" {
		secret = paseto.NewV4AsymmetricSecretKey()
	} else {
		k, err := paseto.NewV4AsymmetricSecretKeyFromHex(secretKeyHex)
		if err != nil {
			return nil, errors.New("oauth: invalid state signing key")
		}
		secret = k
	}
	return &StateSigner{ttl: ttl, secret: secret, public: secret.Public()}, nil
}

// Issue returns a signed state bound to a random nonce.
func (s *StateSigner) Issue(now time.Time) (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}

	tok := paseto.NewToken()
	tok.SetIssuer(stateIssuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(now.Add(s.ttl))
	tok.SetString("nonce", hex.EncodeToString(buf[:]))

	return tok.V4Sign(s.secret, nil), nil
}

// Verify checks signature, issuer and expiry at now.
func (s *StateSigner) Verify(state string, now time.Time) error {
	if state == "" {
		return ErrInvalidState
	}
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(stateIssuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(now))

	parsed, err := p.ParseV4Public(s.public, state, nil)
	if err != nil {
		return ErrInvalidState
	}
	if n, err := parsed.GetString("nonce"); err != nil || n == "" {
		return ErrInvalidState
	}
	return nil
}
