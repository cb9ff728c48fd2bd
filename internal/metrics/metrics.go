// Package metrics wires ambient instrumentation via VictoriaMetrics/metrics,
// following the style of the teacher's pkg/api/api0/metrics.go. None of these
// counters are load-bearing for any invariant in the system; they exist so
// operators can see registry churn, authentication outcomes, and codec
// failures on a dashboard.
package metrics

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var (
	RegistryPushTotal    = metrics.GetOrCreateCounter(`atlas_registry_push_total`)
	RegistryPushRejected = metrics.GetOrCreateCounter(`atlas_registry_push_rejected_total`)
	RegistryRemoveTotal  = metrics.GetOrCreateCounter(`atlas_registry_remove_total`)

	BrokerOriginAuthTotal    = metrics.GetOrCreateCounter(`atlas_broker_origin_auth_total`)
	BrokerOriginAuthAccepted = metrics.GetOrCreateCounter(`atlas_broker_origin_auth_accepted_total`)
	BrokerAuthWithServerTotal  = metrics.GetOrCreateCounter(`atlas_broker_auth_with_server_total`)
	BrokerPersistenceUploadTotal = metrics.GetOrCreateCounter(`atlas_broker_persistence_upload_total`)

	CodecDecodeFailuresTotal = metrics.GetOrCreateCounter(`atlas_codec_decode_failures_total`)
)

// RegistryServersByRegion returns the counter for the given coarse geohash
// cell, creating it on first use.
func RegistryServersByRegion(cell string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`atlas_registry_servers_by_region{cell=%q}`, cell))
}

// VersionGateTotal returns the counter for a version gate outcome
// ("accept_dev", "accept_ok", "reject_notns", "reject_invalid", "reject_old").
func VersionGateTotal(outcome string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`atlas_versiongate_total{outcome=%q}`, outcome))
}
