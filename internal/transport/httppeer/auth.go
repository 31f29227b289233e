// Package httppeer carries the backup protocol over HTTP between peers
// that can reach each other directly. Control messages and snapshot data
// ride authenticated requests: a peer proves key ownership once with a
// signed handshake event and gets a short-lived session token for
// everything else.
package httppeer

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/peervault/peervault/internal/clock"
	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/identity"
	"github.com/peervault/peervault/internal/protocol"
)

const sessionTTL = time.Hour

// authRequest is the handshake body: a signed event of kind
// protocol.KindAuth whose "callsign" tag names the requesting peer.
type authRequest struct {
	Event identity.Event `json:"event"`
}

type authResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type sessionClaims struct {
	PublicKey string `json:"public_key"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies session tokens. The secret is local
// to one node; tokens never cross more than one hop.
type Authenticator struct {
	secret []byte
	clock  clock.Clock
}

func NewAuthenticator(secret []byte, clk clock.Clock) *Authenticator {
	return &Authenticator{secret: secret, clock: clk}
}

// Issue validates a handshake event and returns a session token bound to
// the callsign and public key the event proves.
func (a *Authenticator) Issue(ev *identity.Event) (string, time.Time, error) {
	if ev.Kind != protocol.KindAuth {
		return "", time.Time{}, fmt.Errorf("%w: unexpected event kind %d", common.ErrSignatureInvalid, ev.Kind)
	}
	if err := identity.VerifyEvent(ev); err != nil {
		return "", time.Time{}, err
	}
	now := a.clock.Now()
	age := now.Unix() - ev.CreatedAt
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > common.FreshnessWindow {
		return "", time.Time{}, common.ErrEventStale
	}
	callsign, ok := ev.TagValue("callsign")
	if !ok || callsign == "" {
		return "", time.Time{}, fmt.Errorf("%w: handshake event has no callsign tag", common.ErrSignatureInvalid)
	}

	expiresAt := now.Add(sessionTTL)
	claims := sessionClaims{
		PublicKey: ev.PubKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   callsign,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify checks a session token and returns the peer it was issued to.
func (a *Authenticator) Verify(tokenString string) (callsign, publicKey string, err error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.secret, nil
		},
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		return "", "", fmt.Errorf("parsing session token: %w", err)
	}
	if !token.Valid {
		return "", "", fmt.Errorf("session token invalid")
	}
	return claims.Subject, claims.PublicKey, nil
}
