package tor

import (
	"strings"
	"testing"
)

// testOnionV3Addr is derived from an all-zero public key. It does not
// belong to a real hidden service.
const testOnionV3Addr = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqd.onion"

func TestIsValidV3Address(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		address  string
		expected bool
	}{
		{"valid v3 address", testOnionV3Addr, true},
		{"uppercase", strings.ToUpper(strings.TrimSuffix(testOnionV3Addr, ".onion")) + ".onion", true},
		{"v2 address", "facebookcorewwwi.onion", false},
		{"too short", "abc.onion", false},
		{"too long", strings.Repeat("a", 57) + ".onion", false},
		{"missing suffix", strings.Repeat("a", 56), false},
		{"digit outside base32", strings.Repeat("1", 56) + ".onion", false},
		{"empty", "", false},
		{"only suffix", ".onion", false},
		{"clearnet host", "example.com", false},
		{"wrong checksum", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqe.onion", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsValidV3Address(tc.address); got != tc.expected {
				t.Errorf("IsValidV3Address(%q) = %v, expected %v", tc.address, got, tc.expected)
			}
		})
	}
}
