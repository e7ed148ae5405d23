package countdown

import "testing"

func TestKeyRoundTrip(t *testing.T) {
	key := Key("ORD-123")
	if key != "orders:countdown:ORD-123" {
		t.Fatalf("unexpected key: %s", key)
	}

	orderNo, ok := ParseOrderNo(key)
	if !ok {
		t.Fatal("expected countdown key to parse")
	}
	if orderNo != "ORD-123" {
		t.Fatalf("unexpected order number: %s", orderNo)
	}
}

func TestParseOrderNoRejectsForeignKeys(t *testing.T) {
	cases := []string{
		"session:abc",
		"orders:countdown:",
		"",
		"countdown:ORD-1",
	}
	for _, key := range cases {
		if _, ok := ParseOrderNo(key); ok {
			t.Fatalf("expected %q rejected", key)
		}
	}
}
