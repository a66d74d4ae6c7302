package config

import "testing"

func TestDefaultPortsInValidRanges(t *testing.T) {
	if APIServerPort < 1 || APIServerPort > 65535 {
		t.Errorf("APIServerPort %d out of range", APIServerPort)
	}
	if PostgresPort != 5432 {
		t.Errorf("PostgresPort = %d, want 5432", PostgresPort)
	}
	if PrometheusPort < 9100 || PrometheusPort > 9199 {
		t.Errorf("PrometheusPort %d out of expected monitoring range", PrometheusPort)
	}
}
