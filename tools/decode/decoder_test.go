package decode

import (
	"testing"

	"TProject/tools/errs"
)

type payload struct {
	ID          string `json:"id"`
	TimestampMS int64  `json:"timestamp"`
	Count       int    `json:"count"`
}

func TestMapWeaklyTyped(t *testing.T) {
	var p payload
	in := map[string]any{"id": 42, "timestamp": "1700000000123", "count": "7"}
	if err := Map(in, &p); err != nil {
		t.Fatalf("map: %v", err)
	}
	if p.ID != "42" || p.TimestampMS != 1700000000123 || p.Count != 7 {
		t.Fatalf("decoded = %+v", p)
	}
}

func TestLooseToleratesStringNumbers(t *testing.T) {
	var p payload
	raw := []byte(`{"id":"a1","timestamp":"1700000000123","count":3}`)
	if err := Loose(raw, &p); err != nil {
		t.Fatalf("loose: %v", err)
	}
	if p.ID != "a1" || p.TimestampMS != 1700000000123 || p.Count != 3 {
		t.Fatalf("decoded = %+v", p)
	}
}

func TestLooseRejectsGarbage(t *testing.T) {
	var p payload
	if err := Loose([]byte(`{broken`), &p); !errs.ErrStorageCorrupt.Is(err) {
		t.Fatalf("garbage: err = %v", err)
	}
	// 空载荷是 no-op
	if err := Loose(nil, &p); err != nil {
		t.Fatalf("empty payload: %v", err)
	}
}
