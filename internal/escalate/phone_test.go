package escalate

import "testing"

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"national with trunk zero and separators", "098-765 43210", "+919876543210"},
		{"international untouched", "+44 20 7946 0958", "+442079460958"},
		{"bare ten digits", "9876543210", "+919876543210"},
		{"already prefixed plus91", "+91 98765 43210", "+919876543210"},
		{"short code passes through", "100", "100"},
		{"helpline short code", "1091", "1091"},
		{"eleven digits without plus", "919876543210", "919876543210"},
		{"parentheses and dots", "(098) 765.43210", "+919876543210"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := NormalizePhone(tt.raw, DefaultCountryCode); got != tt.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizePhoneCustomCountryCode(t *testing.T) {
	t.Parallel()

	if got := NormalizePhone("07946095812", "+44"); got != "+447946095812" {
		t.Errorf("got %q, want +447946095812", got)
	}
	// Empty country code falls back to the default.
	if got := NormalizePhone("9876543210", ""); got != "+919876543210" {
		t.Errorf("got %q, want +919876543210", got)
	}
}
