// Package validation implements the Validation component (C4): pure,
// composable predicates over a ValidationArgs record that the deploy
// orchestrator runs before ever touching Storage or the Pointer Manager.
package validation

import (
	"context"

	"github.com/contentmesh/server/pkg/config"
	"github.com/contentmesh/server/pkg/entity"
)

// External enumerates exactly the calls a predicate is allowed to make
// outside the deployment it is validating (§4.1: "externalCalls").
type External interface {
	// IsContentStoredAlready reports whether hash is already present in
	// Storage, so CONTENT can accept a referenced-but-not-uploaded hash.
	IsContentStoredAlready(ctx context.Context, hash string) (bool, error)
	// FetchOverlappingDeployments returns the AuditInfo of every currently
	// active deployment for any of pointers under entityType, used by
	// LEGACY_ENTITY.
	FetchOverlappingDeployments(ctx context.Context, entityType entity.Type, pointers []string) ([]*entity.AuditInfo, error)
	// AccessCheck delegates to the land/name ownership authority.
	AccessCheck(ctx context.Context, entityType entity.Type, pointer, ethAddress string) error
}

// Deployment is the candidate entity + its supporting material being
// validated, prior to any commit.
type Deployment struct {
	Entity     *entity.Entity
	Audit      *entity.AuditInfo
	EthAddress string
	// Files maps content hash -> raw bytes for every file uploaded
	// alongside entity.json (excluding entity.json itself).
	Files map[string][]byte
}

// Args is the record every predicate runs over. It is a concrete struct,
// not an interface{} bag, so predicates fail to compile rather than fail
// at runtime when a field is renamed.
type Args struct {
	Deployment Deployment
	Env        *config.Environment
	External   External
	// Now is injected rather than read from time.Now() so RECENT is
	// deterministically testable.
	Now int64 // ms since epoch
}

// Predicate yields the human-readable error strings describing why a
// deployment is invalid, or nil if it has no objection.
type Predicate func(ctx context.Context, args Args) []string

// All runs every predicate against args and concatenates their findings.
// Predicates are independent; this runs the cheap/local ones first.
func All(ctx context.Context, args Args) []string {
	var errs []string
	for _, p := range []Predicate{
		IPFSHashing,
		RequestSizeV3,
		Recent,
		Content,
		Signature,
		LegacyEntity,
		Access,
	} {
		errs = append(errs, p(ctx, args)...)
	}
	return errs
}
