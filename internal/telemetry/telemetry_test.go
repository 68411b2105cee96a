package telemetry

import (
	"context"
	"testing"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Tracer == nil {
		t.Fatal("expected non-nil tracer (noop)")
	}
	if p.Meter == nil {
		t.Fatal("expected non-nil meter (noop)")
	}
	if p.Metrics == nil || p.Metrics.RequestDuration == nil {
		t.Fatal("expected metrics instruments to be registered even when disabled")
	}
}

func TestInit_Disabled_ShutdownNoop(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInit_Enabled_StdoutExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, ServiceName: "test-service"})
	if err != nil {
		t.Fatalf("Init enabled: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Metrics.SearchDuration == nil {
		t.Fatal("expected search duration histogram to be registered")
	}
}
