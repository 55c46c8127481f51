package gateway

import "testing"

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"send","peer":"u2","body":"hi"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Type != FrameSend || f.Peer != "u2" || f.Body != "hi" {
		t.Fatalf("frame mangled: %+v", f)
	}
}

func TestParseFrameRejectsGarbage(t *testing.T) {
	if _, err := ParseFrame([]byte(`{not json`)); err == nil {
		t.Fatalf("garbage accepted")
	}
	if _, err := ParseFrame([]byte(`{"peer":"u2"}`)); err == nil {
		t.Fatalf("frame without type accepted")
	}
}
