package metrics

import (
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/docs", "/docs"},
		{"/docs/", "/docs"},
		{"/docs/something", "/docs"},
		{"/openapi.json", "/openapi.json"},
		{"/openapi-3.0.json", "/openapi"},
		{"/hooks/upload", "/hooks/upload"},
		{"/hooks/delete", "/hooks/delete"},
		{"/settings", "/settings"},
		{"/settings/schema", "/settings/schema"},
		{"/", "/"},
		{"", "/"},
		{"/uploads/2024/a.png", "/{media}"},
		{"/wp-content/uploads/x.jpg", "/{media}"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := NormalizePath(tt.path)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMetricsRegistered(t *testing.T) {
	Register()
	Register()

	// Verify that recording on every collector does not panic.
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/health").Observe(0.001)
	HTTPResponseSize.WithLabelValues("GET", "/{media}").Observe(2048)
	StoreOperationsTotal.WithLabelValues("put", "success").Inc()
	SyncEventsTotal.WithLabelValues("delete", "skipped").Inc()
	RetrievalsTotal.WithLabelValues("not_found").Inc()
	UploadedBytes.Observe(4096)
	StoreConnected.Set(1)
}
