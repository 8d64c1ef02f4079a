package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrNameTaken       = "E_NAME_TAKEN"

	// Command layer.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrUnknownCommand = "E_UNKNOWN_COMMAND"
	ErrInvalidTarget  = "E_INVALID_TARGET"
	ErrNotDead        = "E_NOT_DEAD"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrNameTaken:       {},
	ErrBadRequest:      {},
	ErrUnknownCommand:  {},
	ErrInvalidTarget:   {},
	ErrNotDead:         {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
