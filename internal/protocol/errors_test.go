package protocol

import (
	"encoding/json"
	"testing"
)

func TestIsKnownCode(t *testing.T) {
	cases := map[string]bool{
		"":                 true,
		ErrProtoBadRequest: true,
		ErrNameTaken:       true,
		ErrBadRequest:      true,
		ErrUnknownCommand:  true,
		ErrInvalidTarget:   true,
		ErrNotDead:         true,
		ErrInternal:        true,
		"E_NOT_DEFINED":    false,
		"e_bad_request":    false,
		"E_PROTO_BAD_REQ":  false,
	}
	for code, want := range cases {
		if got := IsKnownCode(code); got != want {
			t.Fatalf("IsKnownCode(%q)=%v want %v", code, got, want)
		}
	}
}

func TestNewError_Wire(t *testing.T) {
	b, err := json.Marshal(NewError("A3", ErrNotDead, "you are alive"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	base, err := DecodeBase(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if base.Type != TypeError || base.ProtocolVersion != Version {
		t.Fatalf("base=%+v", base)
	}
	var m ErrorMsg
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.AckFor != "A3" || m.Code != ErrNotDead || !IsKnownCode(m.Code) {
		t.Fatalf("msg=%+v", m)
	}
}
