package webhook

import (
	"crypto"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sign produces a delivery body for ev in the same double-encoded form the
// platform sends. A positive ttl sets the exp claim.
func Sign(key crypto.PrivateKey, ev Event, ttl time.Duration) (string, error) {
	method, err := signingMethod(key)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(envelope{
		EventType:  ev.EventType,
		InstanceID: ev.InstanceID,
		Data:       string(ev.Data),
	})
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"data": string(data),
		"iat":  now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign event: %w", err)
	}
	return signed, nil
}
