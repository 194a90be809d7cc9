// Package access implements the external access checker §6 calls out as
// an out-of-scope collaborator: the ACCESS predicate's delegate, which
// resolves pointer ownership against a blockchain-backed registry instead
// of anything the core module holds state for. It also supplies the two
// other External calls (IsContentStoredAlready, FetchOverlappingDeployments)
// since both are thin reads over Storage and the Pointer Manager that the
// validation package intentionally keeps on the far side of an interface.
package access

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/contentmesh/server/pkg/entity"
	"github.com/contentmesh/server/pkg/pointer"
	"github.com/contentmesh/server/pkg/storage"
	"github.com/contentmesh/server/pkg/validation"
)

// landType is the entity type whose pointers are land coordinates
// ("x,y") checked against the DCL API rather than an ENS name.
const landType entity.Type = "scene"

// Client implements validation.External against a real deployment's
// storage and a pair of HTTP-based ownership backends.
type Client struct {
	store      storage.Store
	pointers   *pointer.Manager
	httpClient *http.Client

	dclAPIURL      string
	ensProviderURL string
	ethNetwork     string
}

// Config bundles Client's dependencies.
type Config struct {
	Store          storage.Store
	Pointers       *pointer.Manager
	HTTPClient     *http.Client
	DCLAPIURL      string
	ENSProviderURL string
	ETHNetwork     string
}

// NewClient returns a Client from cfg. Either backend URL may be empty;
// AccessCheck then allows every request for that pointer shape, which is
// the correct behavior for a single-node or local deployment that has no
// land/name registry to consult.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		store:          cfg.Store,
		pointers:       cfg.Pointers,
		httpClient:     httpClient,
		dclAPIURL:      cfg.DCLAPIURL,
		ensProviderURL: cfg.ENSProviderURL,
		ethNetwork:     cfg.ETHNetwork,
	}
}

var _ validation.External = (*Client)(nil)

// IsContentStoredAlready reports whether hash is already present in
// Storage, so CONTENT can accept a referenced-but-not-uploaded hash.
func (c *Client) IsContentStoredAlready(ctx context.Context, hash string) (bool, error) {
	return c.store.Exists(ctx, storage.Contents, hash)
}

// FetchOverlappingDeployments returns the AuditInfo of every entity
// currently active on any of pointers under entityType.
func (c *Client) FetchOverlappingDeployments(ctx context.Context, entityType entity.Type, pointers []string) ([]*entity.AuditInfo, error) {
	active := c.pointers.ActivePointersOfType(entityType)

	seen := make(map[string]struct{})
	var out []*entity.AuditInfo
	for _, p := range pointers {
		id, ok := active[p]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		raw, err := c.store.Get(ctx, storage.Proofs, id)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("access: fetching audit info for %s: %w", id, err)
		}
		var audit entity.AuditInfo
		if err := json.Unmarshal(raw, &audit); err != nil {
			return nil, fmt.Errorf("access: parsing audit info for %s: %w", id, err)
		}
		out = append(out, &audit)
	}
	return out, nil
}

// AccessCheck delegates to the land or name ownership authority
// appropriate for entityType.
func (c *Client) AccessCheck(ctx context.Context, entityType entity.Type, pointer, ethAddress string) error {
	if entityType == landType {
		return c.checkLandOwnership(ctx, pointer, ethAddress)
	}
	return c.checkNameOwnership(ctx, pointer, ethAddress)
}

// checkLandOwnership asks the DCL API whether ethAddress has deploy
// rights over the parcel (or estate containing it) at coordinate p.
func (c *Client) checkLandOwnership(ctx context.Context, p, ethAddress string) error {
	if c.dclAPIURL == "" {
		return nil
	}
	x, y, err := parseCoordinate(p)
	if err != nil {
		return fmt.Errorf("access: pointer %q is not a valid land coordinate: %w", p, err)
	}

	url := fmt.Sprintf("%s/parcels/%d/%d?address=%s&network=%s", strings.TrimRight(c.dclAPIURL, "/"), x, y, ethAddress, c.ethNetwork)
	var body struct {
		Authorized bool `json:"authorized"`
	}
	if err := c.getJSON(ctx, url, &body); err != nil {
		return fmt.Errorf("access: checking land ownership for %q: %w", p, err)
	}
	if !body.Authorized {
		return fmt.Errorf("access: %s is not authorized to deploy to land %q", ethAddress, p)
	}
	return nil
}

// checkNameOwnership asks the ENS owner provider whether ethAddress owns
// the name pointer p resolves to (profiles, wearables, and every other
// non-land entity type use a name pointer, not a coordinate).
func (c *Client) checkNameOwnership(ctx context.Context, p, ethAddress string) error {
	if c.ensProviderURL == "" {
		return nil
	}

	url := fmt.Sprintf("%s/names/%s/owner", strings.TrimRight(c.ensProviderURL, "/"), p)
	var body struct {
		Owner string `json:"owner"`
	}
	if err := c.getJSON(ctx, url, &body); err != nil {
		return fmt.Errorf("access: checking name ownership for %q: %w", p, err)
	}
	if body.Owner != "" && !strings.EqualFold(body.Owner, ethAddress) {
		return fmt.Errorf("access: %s does not own name %q (owner is %s)", ethAddress, p, body.Owner)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parseCoordinate splits a "x,y" land pointer into its integer parts.
func parseCoordinate(p string) (int, int, error) {
	parts := strings.SplitN(p, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected \"x,y\"")
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
