package store

import "testing"

func TestIDFromIndexKey_RoundTripsIDsContainingColons(t *testing.T) {
	cases := []string{
		"a",
		"plain-id",
		"gallery:album-42:photo-7",
		"::::",
		"",
	}
	for _, id := range cases {
		key := withIDSuffix("p:idx:ts:00000000000000000001:", id)
		got := idFromIndexKey(key)
		if got != id {
			t.Errorf("withIDSuffix/idFromIndexKey round trip: id %q -> key %q -> %q", id, key, got)
		}
	}
}

func TestIDFromIndexKey_DistinguishesColonIDFromPlainID(t *testing.T) {
	withColon := withIDSuffix("p:idx:ts:00000000000000000001:", "foo:bar")
	plain := withIDSuffix("p:idx:ts:00000000000000000001:", "bar")

	if got := idFromIndexKey(withColon); got != "foo:bar" {
		t.Errorf("idFromIndexKey(%q) = %q, want %q", withColon, got, "foo:bar")
	}
	if got := idFromIndexKey(plain); got != "bar" {
		t.Errorf("idFromIndexKey(%q) = %q, want %q", plain, got, "bar")
	}
}
