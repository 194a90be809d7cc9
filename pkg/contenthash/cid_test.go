package contenthash

import "testing"

func TestHashRoundTrips(t *testing.T) {
	data := []byte("hello content mesh")
	cid := Hash(data)

	if !Valid(cid) {
		t.Fatalf("expected %q to be a valid CIDv1", cid)
	}
	if cid[0] != 'b' {
		t.Errorf("expected multibase 'b' prefix, got %q", cid)
	}
	if !Matches(cid, data) {
		t.Errorf("Matches should be true for the hashed bytes")
	}
	if Matches(cid, []byte("different bytes")) {
		t.Errorf("Matches should be false for unrelated bytes")
	}
}

func TestHashIsDeterministic(t *testing.T) {
	data := []byte("deterministic")
	if Hash(data) != Hash(data) {
		t.Fatal("Hash must be deterministic for identical input")
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"b",
		"not-a-cid",
		"Qm1234567890", // CIDv0-shaped, not CIDv1
	}
	for _, c := range cases {
		if Valid(c) {
			t.Errorf("expected %q to be invalid", c)
		}
	}
}

func TestDecodeRejectsTruncatedDigest(t *testing.T) {
	cid := Hash([]byte("x"))
	truncated := cid[:len(cid)-4]
	if Valid(truncated) {
		t.Errorf("truncated cid %q should not validate", truncated)
	}
}
