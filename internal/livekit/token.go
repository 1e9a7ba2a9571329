package livekit

import (
	"errors"
	"time"

	"voicecall-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL matches the LiveKit server default token lifetime. There is
// no revocation path; a token stays valid until it expires.
const DefaultTokenTTL = 6 * time.Hour

// VideoGrant is the LiveKit room permission claim. This issuer always grants
// exactly join + publish (audio and data) + subscribe; there is no
// finer-grained policy.
type VideoGrant struct {
	Room           string `json:"room,omitempty"`
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	CanPublish     *bool  `json:"canPublish,omitempty"`
	CanPublishData *bool  `json:"canPublishData,omitempty"`
	CanSubscribe   *bool  `json:"canSubscribe,omitempty"`
}

// AccessClaims is the LiveKit access-token claim shape: issuer is the API key,
// subject is the participant identity, and the grant lives under "video".
type AccessClaims struct {
	jwt.RegisteredClaims

	Name     string     `json:"name,omitempty"`
	Metadata string     `json:"metadata,omitempty"`
	Video    VideoGrant `json:"video"`
}

// TokenIssuer mints signed, time-scoped room access tokens. LiveKit tokens are
// plain HS256 JWTs, so they are minted directly rather than through the SDK.
type TokenIssuer struct {
	apiKey string
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(cfg config.LiveKitConfig) (*TokenIssuer, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("livekit: api key and secret are required")
	}
	return &TokenIssuer{
		apiKey: cfg.APIKey,
		secret: []byte(cfg.APISecret),
		ttl:    DefaultTokenTTL,
	}, nil
}

// Issue binds one participant identity to one named room, embedding the
// serialized caller metadata, and returns the signed token.
func (i *TokenIssuer) Issue(now time.Time, room, identity, displayName, metadata string) (string, error) {
	if room == "" || identity == "" {
		return "", errors.New("livekit: room and identity are required")
	}

	yes := true
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name:     displayName,
		Metadata: metadata,
		Video: VideoGrant{
			Room:           room,
			RoomJoin:       true,
			CanPublish:     &yes,
			CanPublishData: &yes,
			CanSubscribe:   &yes,
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(i.secret)
}
