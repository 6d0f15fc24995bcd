package httpapi

import "testing"

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc123", "abc123", false},
		{"bearer abc123", "abc123", false},
		{"  Bearer   abc123  ", "abc123", false},
		{"", "", true},
		{"Basic abc123", "", true},
		{"Bearer ", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("header %q: expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Fatalf("header %q: %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("header %q: got %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestPublicPaths(t *testing.T) {
	public := []string{"/", "/health", "/version", "/v1/auth/login", "/metrics"}
	for _, p := range public {
		if !isPublicPath(p) {
			t.Fatalf("%s should be public", p)
		}
	}
	// /v1/settings stays out of the skip list: the handler widens the
	// response for admins, so the credential must be resolved.
	private := []string{"/v1/auth/me", "/v1/profile", "/v1/settings", "/v1/admin/stats", "/v1/admin/settings/app_name"}
	for _, p := range private {
		if isPublicPath(p) {
			t.Fatalf("%s should require auth", p)
		}
	}
}
