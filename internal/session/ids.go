package session

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Alphanumeric alphabet for session identifiers. 62^8 room ids make
// collisions negligible at expected call volumes; no uniqueness check against
// the store is performed.
const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	roomIDLength        = 8
	participantIDLength = 6
)

// NewRoomName generates a fresh room/session identifier (call-<random8>).
func NewRoomName() (string, error) {
	id, err := gonanoid.Generate(idAlphabet, roomIDLength)
	if err != nil {
		return "", err
	}
	return "call-" + id, nil
}

// NewParticipantName generates a fresh participant identifier (user-<random6>).
func NewParticipantName() (string, error) {
	id, err := gonanoid.Generate(idAlphabet, participantIDLength)
	if err != nil {
		return "", err
	}
	return "user-" + id, nil
}
