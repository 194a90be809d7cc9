package validation

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/contentmesh/server/pkg/authchain"
	"github.com/contentmesh/server/pkg/contenthash"
)

// Recent fails if the entity's declared timestamp is further than
// RequestTTLBackwards in the past or RequestTTLForwards in the future,
// relative to args.Now (§4.1).
func Recent(_ context.Context, args Args) []string {
	e := args.Deployment.Entity
	delta := args.Now - e.Timestamp
	backwards := args.Env.RequestTTLBackwards.Milliseconds()
	forwards := args.Env.RequestTTLForwards.Milliseconds()

	if delta > backwards {
		return []string{fmt.Sprintf("The request is not recent enough, please submit it again with a new timestamp. Current timestamp: %d. Entity timestamp: %d", args.Now, e.Timestamp)}
	}
	if -delta > forwards {
		return []string{fmt.Sprintf("The request is not recent enough, please submit it again with a new timestamp. Current timestamp: %d. Entity timestamp: %d", args.Now, e.Timestamp)}
	}
	return nil
}

// Signature verifies the auth chain proves authority over entity.id,
// rooted at an Ethereum address (§4.1).
func Signature(_ context.Context, args Args) []string {
	_, err := authchain.Verify(args.Deployment.Audit.AuthChain, args.Deployment.Entity.ID)
	if err != nil {
		return []string{err.Error()}
	}
	return nil
}

// Content requires every hash entity.content references to be either
// uploaded in this request or already stored, and every uploaded hash to
// be referenced by the entity (no orphan uploads). The entity-file hash
// itself is always legitimate.
func Content(ctx context.Context, args Args) []string {
	e := args.Deployment.Entity
	files := args.Deployment.Files

	referenced := make(map[string]struct{}, len(e.Content))
	var errs []string
	for name, hash := range e.Content {
		if hash == e.ID {
			continue
		}
		referenced[hash] = struct{}{}
		if _, uploaded := files[hash]; uploaded {
			continue
		}
		stored, err := args.External.IsContentStoredAlready(ctx, hash)
		if err != nil {
			errs = append(errs, fmt.Sprintf("checking stored content for %s (%s): %v", name, hash, err))
			continue
		}
		if !stored {
			errs = append(errs, fmt.Sprintf("This hash is referenced in the entity but was not uploaded or previously available: %s", hash))
		}
	}

	for hash := range files {
		if hash == e.ID {
			continue
		}
		if _, ok := referenced[hash]; !ok {
			errs = append(errs, fmt.Sprintf("This hash was uploaded but is not referenced in the entity: %s", hash))
		}
	}

	return errs
}

// IPFSHashing requires entity.id and every content hash to be a valid
// CIDv1 string (§4.1).
func IPFSHashing(_ context.Context, args Args) []string {
	e := args.Deployment.Entity
	var errs []string
	if !contenthash.Valid(e.ID) {
		errs = append(errs, fmt.Sprintf("entity id %q is not a valid content hash", e.ID))
	}
	for name, hash := range e.Content {
		if !contenthash.Valid(hash) {
			errs = append(errs, fmt.Sprintf("content hash %q for %q is not a valid content hash", hash, name))
		}
	}
	return errs
}

// Access delegates to the external access checker for every declared
// pointer (§4.1).
func Access(ctx context.Context, args Args) []string {
	e := args.Deployment.Entity
	var errs []string
	for _, pointer := range e.Pointers {
		if err := args.External.AccessCheck(ctx, e.Type, pointer, args.Deployment.EthAddress); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// RequestSizeV3 requires the average uploaded bytes per declared pointer
// not to exceed the configured per-type budget (§4.1).
func RequestSizeV3(_ context.Context, args Args) []string {
	e := args.Deployment.Entity
	if len(e.Pointers) == 0 {
		return nil // ErrEmptyPointers already rejected this at parse time
	}

	var totalBytes int64
	for _, data := range args.Deployment.Files {
		totalBytes += int64(len(data))
	}

	maxMB := args.Env.MaxUploadSizeMB(string(e.Type))
	avgMB := float64(totalBytes) / float64(len(e.Pointers)) / (1024 * 1024)
	if avgMB > maxMB {
		return []string{fmt.Sprintf("upload size %.2fMB per pointer exceeds the %.2fMB budget for type %q", avgMB, maxMB, e.Type)}
	}
	return nil
}

// LegacyEntity only runs when the deployment's audit info carries
// migrationData; it rejects a legacy deployment that would clobber
// content already at or past the protocol version it claims to migrate
// from (§9 Open Questions, resolved in DESIGN.md).
func LegacyEntity(ctx context.Context, args Args) []string {
	audit := args.Deployment.Audit
	if audit.MigrationData == nil {
		return nil
	}
	if !args.Env.AllowLegacyEntities {
		return []string{"legacy entities are disabled by configuration (ALLOW_LEGACY_ENTITIES=false)"}
	}

	thisVersion, err := semver.NewVersion(audit.Version)
	if err != nil {
		return []string{fmt.Sprintf("legacy deployment has unparseable version %q: %v", audit.Version, err)}
	}
	floor, err := semver.NewVersion(audit.MigrationData.OriginalVersion)
	if err != nil {
		return []string{fmt.Sprintf("legacy deployment has unparseable migration floor %q: %v", audit.MigrationData.OriginalVersion, err)}
	}

	e := args.Deployment.Entity
	overlapping, err := args.External.FetchOverlappingDeployments(ctx, e.Type, e.Pointers)
	if err != nil {
		return []string{fmt.Sprintf("fetching overlapping deployments: %v", err)}
	}

	var errs []string
	for _, o := range overlapping {
		oVersion, err := semver.NewVersion(o.Version)
		if err != nil {
			continue // an incumbent with an unparseable version cannot block a migration
		}
		if oVersion.GreaterThan(thisVersion) {
			errs = append(errs, fmt.Sprintf("overlapping deployment has newer protocol version %s", o.Version))
			continue
		}
		if o.MigrationData == nil && !oVersion.LessThan(floor) {
			errs = append(errs, fmt.Sprintf("overlapping non-legacy deployment at version %s already satisfies migration floor %s", o.Version, floor))
		}
	}
	return errs
}
