package postgres

import (
	"strings"
	"testing"
)

func TestSchemaDefinesAllTables(t *testing.T) {
	for _, table := range []string{
		"services",
		"service_dependencies",
		"circular_dependency_alerts",
		"slo_recommendations",
		"active_slos",
		"slo_audit_log",
		"api_keys",
	} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema does not create table %q", table)
		}
	}
}

func TestSchemaEnforcesEnumsAndNumericInvariants(t *testing.T) {
	for _, constraint := range []string{
		`criticality IN ('critical', 'high', 'medium', 'low')`,
		`service_type IN ('internal', 'external')`,
		`communication_mode IN ('sync', 'async')`,
		`criticality IN ('hard', 'soft', 'degraded')`,
		`discovery_source IN ('manual', 'service_mesh', 'otel_service_graph', 'kubernetes')`,
		`status IN ('open', 'acknowledged', 'resolved')`,
		`timeout_ms IS NULL OR timeout_ms > 0`,
		`confidence_score >= 0 AND confidence_score <= 1`,
		`published_sla >= 0 AND published_sla <= 1`,
	} {
		if !strings.Contains(schema, constraint) {
			t.Errorf("schema lacks check constraint %q", constraint)
		}
	}
}
