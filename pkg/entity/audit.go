package entity

import (
	"encoding/json"
	"time"
)

// AuditInfo is the per-deployment record stored in Storage under category
// PROOFS, keyed by entity id (§3).
type AuditInfo struct {
	Version           string          `json:"version"`
	DeployedTimestamp int64           `json:"deployedTimestamp"` // ms since epoch
	AuthChain         []AuthLink      `json:"authChain"`
	MigrationData     *MigrationData  `json:"migrationData,omitempty"`

	// LocalTimestamp is the server's own receipt time, distinct from
	// DeployedTimestamp for synced entities (which carry the origin
	// server's timestamp verbatim). Supplemental field carried over from
	// the richer audit trail of the original system (see SPEC_FULL.md §3).
	LocalTimestamp int64 `json:"localTimestamp"`

	// OverwrittenBy names the entity that orphaned this one, for audit
	// queries. Nothing in this server sets it, so it is empty unless it
	// was present in decoded audit JSON.
	OverwrittenBy string `json:"overwrittenBy,omitempty"`

	IsBlacklisted      bool     `json:"isBlacklisted,omitempty"`
	BlacklistedContent []string `json:"blacklistedContent,omitempty"`
}

// AuthLink is one signed statement in an auth chain proving authority over
// an entity id.
type AuthLink struct {
	Type      string `json:"type"`      // "SIGNER" | "ECDSA_EPHEMERAL" | "ECDSA_SIGNED_ENTITY"
	Payload   string `json:"payload"`   // SIGNER: the root address; later links: "<pubKeyHex>|<attested message>"
	Signature string `json:"signature"` // hex-encoded signature, empty for the root SIGNER link
}

// MigrationData marks an AuditInfo as belonging to a legacy-protocol
// entity that was migrated forward, used by the LEGACY_ENTITY predicate.
type MigrationData struct {
	OriginalVersion  string          `json:"originalVersion"`
	OriginalMetadata json.RawMessage `json:"originalMetadata,omitempty"`
}

// DeployedAt returns the AuditInfo's DeployedTimestamp as a time.Time.
func (a *AuditInfo) DeployedAt() time.Time {
	return time.UnixMilli(a.DeployedTimestamp)
}
