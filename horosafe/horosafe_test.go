package horosafe

import (
	"errors"
	"testing"
)

func TestValidateURL(t *testing.T) {
	noDNS := URLPolicy{Resolve: func(string) ([]string, error) { return []string{"93.184.216.34"}, nil }}
	tests := []struct {
		url     string
		wantErr error
	}{
		{"https://chat.example.com/c/1", nil},
		{"http://example.com/", nil},
		{"ftp://evil.com/data", ErrUnsafeScheme},
		{"javascript:alert(1)", ErrUnsafeScheme},
		{"http://127.0.0.1/admin", ErrSSRF},
		{"http://10.0.0.1/internal", ErrSSRF},
		{"http://192.168.1.1/api", ErrSSRF},
		{"http://[::1]/api", ErrSSRF},
		{"http://172.16.0.1/secret", ErrSSRF},
		{"http://169.254.169.254/latest", ErrSSRF},
		{"http://[::ffff:127.0.0.1]/", ErrSSRF},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url, noDNS)
		if tt.wantErr == nil && err != nil {
			t.Errorf("ValidateURL(%q) = %v", tt.url, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("ValidateURL(%q) = %v, want %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidateURLResolvesHosts(t *testing.T) {
	p := URLPolicy{Resolve: func(string) ([]string, error) { return []string{"10.1.2.3"}, nil }}
	if err := ValidateURL("https://internal.corp/", p); !errors.Is(err, ErrSSRF) {
		t.Errorf("err = %v, want ErrSSRF", err)
	}
}

func TestValidateURLAllowPrivate(t *testing.T) {
	if err := ValidateURL("http://127.0.0.1:8080/", URLPolicy{AllowPrivate: true}); err != nil {
		t.Errorf("err = %v", err)
	}
	if err := ValidateURL("file:///etc/passwd", URLPolicy{AllowPrivate: true}); !errors.Is(err, ErrUnsafeScheme) {
		t.Errorf("scheme check skipped: %v", err)
	}
	if err := ValidateURL("http:///nohost", URLPolicy{AllowPrivate: true}); err == nil {
		t.Error("missing host accepted")
	}
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"page-1", "chat.main", "A_b"} {
		if err := ValidateIdentifier(ok); err != nil {
			t.Errorf("%q: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a b", "../x", "id;drop", string(make([]byte, 129))} {
		if err := ValidateIdentifier(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}
