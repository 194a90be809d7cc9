package telemetry

import "go.opentelemetry.io/otel/attribute"

// Semantic-convention-style attribute keys for this server's domain,
// generalized from the corpus's own entity-id/entity-type span attribute
// pair to the deploy/sync pipeline's additional dimensions.
var (
	AttrEntityID   = attribute.Key("contentmesh.entity.id")
	AttrEntityType = attribute.Key("contentmesh.entity.type")
	AttrServerName = attribute.Key("contentmesh.server_name")
	AttrSynced     = attribute.Key("contentmesh.synced")
)

// DeployAttrs builds the standard attribute set attached to a deploy span
// and its RED metrics.
func DeployAttrs(entityType, serverName string, synced bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEntityType.String(entityType),
		AttrServerName.String(serverName),
		AttrSynced.Bool(synced),
	}
}
