package memo

import (
	"strings"
	"testing"
)

const (
	testHash    = "a3f1c0de0123456789abcdef0123456789abcdef0123456789abcdef01234567"
	testDoctor  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	testAddress = "So11111111111111111111111111111111111111112"
)

func mustHash(t *testing.T, value string) Hash {
	t.Helper()
	hash, err := NewHash(value)
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}
	return hash
}

func mustAddress(t *testing.T, value string) Address {
	t.Helper()
	address, err := NewAddress(value)
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	return address
}

func TestEncodeProducesWireFormat(t *testing.T) {
	record := RecordMemo{RecordHash: mustHash(t, testHash)}
	if record.Encode() != "AP1|RECORD|"+testHash {
		t.Fatalf("unexpected record wire form: %s", record.Encode())
	}

	grant := GrantMemo{RecordHash: mustHash(t, testHash), Doctor: mustAddress(t, testDoctor), ExpiryUnix: 1700003600}
	if grant.Encode() != "AP1|GRANT|"+testHash+"|"+testDoctor+"|1700003600" {
		t.Fatalf("unexpected grant wire form: %s", grant.Encode())
	}

	revoke := RevokeMemo{RecordHash: mustHash(t, testHash), Doctor: mustAddress(t, testDoctor)}
	if revoke.Encode() != "AP1|REVOKE|"+testHash+"|"+testDoctor {
		t.Fatalf("unexpected revoke wire form: %s", revoke.Encode())
	}
}

func TestParseRoundTripsEveryVariant(t *testing.T) {
	memos := []Memo{
		RecordMemo{RecordHash: mustHash(t, testHash)},
		GrantMemo{RecordHash: mustHash(t, testHash), Doctor: mustAddress(t, testDoctor), ExpiryUnix: 1},
		GrantMemo{RecordHash: mustHash(t, testHash), Doctor: mustAddress(t, testAddress), ExpiryUnix: 4102444800},
		RevokeMemo{RecordHash: mustHash(t, testHash), Doctor: mustAddress(t, testDoctor)},
	}

	for _, original := range memos {
		parsed, ok := Parse(original.Encode())
		if !ok {
			t.Fatalf("expected %q to parse", original.Encode())
		}
		if parsed != original {
			t.Fatalf("round trip mismatch: %#v != %#v", parsed, original)
		}
	}
}

func TestParseRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "wrong tag", raw: "AP2|RECORD|" + testHash},
		{name: "tag only", raw: "AP1"},
		{name: "unknown action", raw: "AP1|TRANSFER|" + testHash},
		{name: "lowercase action", raw: "AP1|record|" + testHash},
		{name: "record missing hash", raw: "AP1|RECORD"},
		{name: "record extra field", raw: "AP1|RECORD|" + testHash + "|extra"},
		{name: "record short hash", raw: "AP1|RECORD|" + testHash[:63]},
		{name: "record uppercase hex", raw: "AP1|RECORD|" + strings.ToUpper(testHash)},
		{name: "record non-hex hash", raw: "AP1|RECORD|" + strings.Repeat("g", 64)},
		{name: "grant wrong field count", raw: "AP1|GRANT|" + testHash + "|" + testDoctor},
		{name: "grant invalid doctor", raw: "AP1|GRANT|" + testHash + "|not-an-address!|1700003600"},
		{name: "grant short doctor", raw: "AP1|GRANT|" + testHash + "|abc|1700003600"},
		{name: "grant zero expiry", raw: "AP1|GRANT|" + testHash + "|" + testDoctor + "|0"},
		{name: "grant negative expiry", raw: "AP1|GRANT|" + testHash + "|" + testDoctor + "|-5"},
		{name: "grant fractional expiry", raw: "AP1|GRANT|" + testHash + "|" + testDoctor + "|17.5"},
		{name: "grant non-numeric expiry", raw: "AP1|GRANT|" + testHash + "|" + testDoctor + "|soon"},
		{name: "revoke wrong field count", raw: "AP1|REVOKE|" + testHash},
		{name: "revoke invalid doctor", raw: "AP1|REVOKE|" + testHash + "|zzz"},
		{name: "separator noise", raw: "AP1||RECORD|" + testHash},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if parsed, ok := Parse(tc.raw); ok {
				t.Fatalf("expected rejection, got %#v", parsed)
			}
		})
	}
}

func TestNewHashValidation(t *testing.T) {
	if _, err := NewHash(testHash); err != nil {
		t.Fatalf("valid hash rejected: %v", err)
	}
	if _, err := NewHash(strings.ToUpper(testHash)); err == nil {
		t.Fatalf("uppercase hash accepted")
	}
	if _, err := NewHash("abc"); err == nil {
		t.Fatalf("short hash accepted")
	}
}

func TestNewAddressValidation(t *testing.T) {
	if _, err := NewAddress(testDoctor); err != nil {
		t.Fatalf("valid address rejected: %v", err)
	}
	if _, err := NewAddress("0OIl"); err == nil {
		t.Fatalf("non-base58 alphabet accepted")
	}
	if _, err := NewAddress("abc"); err == nil {
		t.Fatalf("short address accepted")
	}
}
