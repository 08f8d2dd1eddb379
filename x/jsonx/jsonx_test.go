package jsonx

import "testing"

func TestDecode(t *testing.T) {
	type P struct {
		A int    `json:"a"`
		B string `json:"b"`
	}

	for name, in := range map[string]any{
		"bytes":  []byte(`{"a":1,"b":"x"}`),
		"string": `{"a":1,"b":"x"}`,
		"map":    map[string]any{"a": 1, "b": "x"},
		"value":  P{A: 1, B: "x"},
		"ptr":    &P{A: 1, B: "x"},
	} {
		var p P
		if err := Decode(in, &p); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if p.A != 1 || p.B != "x" {
			t.Fatalf("%s: %+v", name, p)
		}
	}
}

func TestDecode_NilAndBad(t *testing.T) {
	p := struct{ A int }{A: 4}
	if err := Decode(nil, &p); err != nil || p.A != 4 {
		t.Fatalf("nil should leave dst alone: %+v %v", p, err)
	}
	if err := Decode("{bad", &p); err == nil {
		t.Fatal("bad JSON accepted")
	}
	if err := Decode(func() {}, &p); err == nil {
		t.Fatal("func accepted")
	}
}
