// Package webhook verifies and dispatches signed platform event deliveries.
//
// A delivery body is a compact JWS. Its "data" claim is a JSON object
// serialized to a string, and that object's own "data" field is the event
// payload serialized to a string a second time. Both levels are decoded.
package webhook

import (
	"crypto"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shohag/risebridge/internal/apperr"
)

// ErrMalformedEnvelope marks a correctly signed delivery whose payload does not
// decode. It still matches apperr.ErrInvalidSignature.
var ErrMalformedEnvelope = fmt.Errorf("%w: malformed envelope", apperr.ErrInvalidSignature)

// Verifier checks delivery signatures against the platform public key.
type Verifier struct {
	key     crypto.PublicKey
	methods []string
}

func NewVerifier(key crypto.PublicKey) (*Verifier, error) {
	methods, err := verifyMethods(key)
	if err != nil {
		return nil, err
	}
	return &Verifier{key: key, methods: methods}, nil
}

// Verify authenticates raw and decodes the event it carries. Every failure
// is reported as apperr.ErrInvalidSignature.
func (v *Verifier) Verify(raw []byte) (*Event, error) {
	tokenString := strings.TrimSpace(string(raw))
	if tokenString == "" {
		return nil, fmt.Errorf("empty body: %w", apperr.ErrInvalidSignature)
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods(v.methods))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidSignature, err)
	}
	if !token.Valid {
		return nil, apperr.ErrInvalidSignature
	}

	dataClaim, ok := claims["data"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: data claim missing or not a string", ErrMalformedEnvelope)
	}

	// An empty eventType is left to the dispatcher, which ignores it.
	var env envelope
	if err := json.Unmarshal([]byte(dataClaim), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	ev := &Event{EventType: env.EventType, InstanceID: env.InstanceID}
	if env.Data != "" {
		if !json.Valid([]byte(env.Data)) {
			return nil, fmt.Errorf("%w: inner data is not valid JSON", ErrMalformedEnvelope)
		}
		ev.Data = json.RawMessage(env.Data)
	}
	return ev, nil
}
