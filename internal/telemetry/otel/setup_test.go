package otel

import (
	"context"
	"testing"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	p, err := NewProviders(context.Background(), "", "session-notifications", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if p.TracerProvider == nil || p.MeterProvider == nil || p.LoggerProvider == nil {
		t.Error("no-op providers should all be non-nil")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestNewProviders_WhitespaceEndpoint(t *testing.T) {
	p, err := NewProviders(context.Background(), "   ", "session-notifications", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestGrpcTarget(t *testing.T) {
	cases := []struct {
		endpoint     string
		override     bool
		wantTarget   string
		wantInsecure bool
		wantErr      bool
	}{
		{endpoint: "localhost:4317", wantTarget: "localhost:4317", wantInsecure: true},
		{endpoint: "http://collector:4317", wantTarget: "collector:4317", wantInsecure: true},
		{endpoint: "https://collector:4317", wantTarget: "collector:4317", wantInsecure: false},
		{endpoint: "https://collector:4317", override: true, wantTarget: "collector:4317", wantInsecure: true},
		{endpoint: "https://collector:4317/v1/traces", wantTarget: "collector:4317", wantInsecure: false},
		{endpoint: "http://", wantErr: true},
	}
	for _, tc := range cases {
		target, insecure, err := grpcTarget(tc.endpoint, tc.override)
		if tc.wantErr {
			if err == nil {
				t.Errorf("grpcTarget(%q): want error", tc.endpoint)
			}
			continue
		}
		if err != nil {
			t.Errorf("grpcTarget(%q): %v", tc.endpoint, err)
			continue
		}
		if target != tc.wantTarget || insecure != tc.wantInsecure {
			t.Errorf("grpcTarget(%q) = (%q, %v), want (%q, %v)",
				tc.endpoint, target, insecure, tc.wantTarget, tc.wantInsecure)
		}
	}
}

func TestSetGlobal_NilFields(t *testing.T) {
	// Must not panic with nil providers.
	(&Providers{}).SetGlobal()
}
