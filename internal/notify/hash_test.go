package notify

import "testing"

// TestHashIDDeterministic tests that equal ids always map to the same
// numeric id.
func TestHashIDDeterministic(t *testing.T) {
	ids := []string{
		"task1",
		"task1-reminder-0",
		"c6f1a2d0-9b3e-4f41-8c55-1a2b3c4d5e6f",
		"",
	}
	for _, id := range ids {
		if HashID(id) != HashID(id) {
			t.Errorf("HashID(%q) is not stable", id)
		}
	}
}

// TestHashIDKnownValues tests the 31x+c recurrence against hand-checked
// values.
func TestHashIDKnownValues(t *testing.T) {
	cases := []struct {
		in   string
		want int32
	}{
		{"", 0},
		{"a", 97},
		{"ab", 3105},
	}
	for _, tc := range cases {
		if got := HashID(tc.in); got != tc.want {
			t.Errorf("HashID(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

// TestHashIDNonNegative tests that every output is usable as a numeric
// notification id, including inputs whose raw hash overflows negative.
func TestHashIDNonNegative(t *testing.T) {
	ids := []string{
		"task1",
		"a-very-long-identifier-that-overflows-the-running-hash-several-times",
		"f47ac10b-58cc-4372-a567-0e02b2c3d479-reminder-2",
		"\x00\xff weird bytes",
	}
	for _, id := range ids {
		if got := HashID(id); got < 0 {
			t.Errorf("HashID(%q) = %d, expected non-negative", id, got)
		}
	}
}
