package domain

import (
	"errors"
	"regexp"
)

type RoomID string

// Canonical room id form: uppercase letters and digits, 4 to 12 chars.
var roomIDPattern = regexp.MustCompile(`^[A-Z0-9]{4,12}$`)

func ValidRoomID(s string) bool {
	return roomIDPattern.MatchString(s)
}

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomHasHost    = errors.New("room already has a host")
	ErrMemberNotFound = errors.New("member not found")
)
