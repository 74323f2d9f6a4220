package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestHeadersMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HeadersMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Error("expected a Content-Security-Policy header")
	}
}

func TestValidateEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public https", "https://hooks.example.com/alerts", false},
		{"public http", "http://hooks.example.com/alerts", false},
		{"bad scheme", "ftp://hooks.example.com", true},
		{"no host", "https://", true},
		{"not a url", "://bad", true},
		{"localhost", "https://localhost/alerts", true},
		{"localhost mixed case", "https://LocalHost/alerts", true},
		{"cloud metadata", "http://metadata.google.internal/computeMetadata", true},
		{"loopback literal", "http://127.0.0.1:9000/hook", true},
		{"private literal", "http://10.1.2.3/hook", true},
		{"link-local literal", "http://169.254.169.254/latest/meta-data", true},
		{"unspecified literal", "http://0.0.0.0/hook", true},
		{"ipv6 loopback", "http://[::1]/hook", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEndpointURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEndpointURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
