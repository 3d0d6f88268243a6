package cmd

import (
	"testing"
	"time"
)

func TestReportFileName(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	tests := []struct {
		description string
		want        string
	}{
		{"Lithium batteries, 200kg, Shenzhen to Rotterdam by sea", "lithium-batteries-200kg-shenzhen-to-20260304-050607.html"},
		{"  Oak chairs  ", "oak-chairs-20260304-050607.html"},
		{"!!!", "report-20260304-050607.html"},
	}

	for _, tt := range tests {
		if got := reportFileName(tt.description, now); got != tt.want {
			t.Fatalf("reportFileName(%q) = %q, want %q", tt.description, got, tt.want)
		}
	}
}
