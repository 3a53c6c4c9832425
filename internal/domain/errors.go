package domain

import "errors"

var (
	ErrAuthentication        = errors.New("authentication failed")
	ErrRoomResolution        = errors.New("room has no matching appointment")
	ErrTranscriptionProvider = errors.New("transcription provider failure")
	ErrPersistence           = errors.New("persistence failure")

	ErrNotInRoom             = errors.New("connection is not in the room")
	ErrTranscriptionDisabled = errors.New("transcription is not configured")
	ErrSessionStopped        = errors.New("transcription session stopped")
	ErrBadPayload            = errors.New("malformed event payload")
	ErrMessageTooLong        = errors.New("chat message is too long")
)
