package api

import "testing"

func TestMessageObjCarriesDefaultMessage(t *testing.T) {
	obj := ErrPlayerNotFound.MessageObj()
	if obj.Code != ErrPlayerNotFound {
		t.Fatalf("expected code %q, got %q", ErrPlayerNotFound, obj.Code)
	}
	if obj.Message == "" {
		t.Fatalf("expected non-empty default message")
	}
}

func TestObjHasNoMessage(t *testing.T) {
	obj := ErrUnknown.Obj()
	if obj.Message != "" {
		t.Fatalf("expected Obj() to leave message blank, got %q", obj.Message)
	}
}

func TestMessageObjfAppendsDetail(t *testing.T) {
	obj := ErrInvalidModInfo.MessageObjf("%s param is required", "port")
	if obj.Message == ErrInvalidModInfo.Message() {
		t.Fatalf("expected detail to be appended")
	}
}

func TestMessagefWithEmptyFormat(t *testing.T) {
	if got, want := ErrServerNotFound.Messagef(""), ErrServerNotFound.Message(); got != want {
		t.Fatalf("expected Messagef(\"\") to equal Message(), got %q want %q", got, want)
	}
}

func TestEveryErrorCodeHasADistinctMessage(t *testing.T) {
	codes := []ErrorCode{
		ErrPlayerNotFound, ErrUnauthorizedGameserver, ErrInvalidPersistentData,
		ErrStryderResponse, ErrUnauthorizedGame, ErrInvalidMasterserverToken,
		ErrServerNotFound, ErrUnauthorizedPwd, ErrBadGameserverResponse,
		ErrNoGameserverResponse, ErrInvalidModInfo, ErrMaxServersForIP,
		ErrUnsupportedVersion, ErrUnknown,
	}
	seen := make(map[string]ErrorCode, len(codes))
	for _, c := range codes {
		msg := c.Message()
		if msg == "" {
			t.Errorf("code %q has an empty message", c)
		}
		if other, ok := seen[msg]; ok {
			t.Errorf("codes %q and %q share the message %q", c, other, msg)
		}
		seen[msg] = c
	}
	if len(codes) != 14 {
		t.Fatalf("expected the closed set to have 14 members, got %d", len(codes))
	}
}
