package cluster

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/contentmesh/server/pkg/peerauth"
)

// defaultProbeTimeout bounds the reachability check Refresh runs against
// each peer, distinct from the caller-supplied timeout on the peer calls
// themselves (§5: peer HTTP calls default to 30s; a membership probe
// should fail fast so one dead peer doesn't stall a whole refresh).
const defaultProbeTimeout = 5 * time.Second

// Cluster owns the current view of the peer set: which peers the DAO
// reports, and whether each is currently Active or shadowed behind a
// Redirect client. ActiveClient instances (and their watermarks) persist
// across refreshes as long as the peer keeps appearing in the DAO's
// membership list, even while it flips between reachable and not.
type Cluster struct {
	dao          DAOClient
	httpClient   *http.Client
	perPeerRPS   float64
	perPeerBurst int

	mu      sync.RWMutex
	active  map[string]*ActiveClient // name -> persistent client, survives reachability flips
	current map[string]PeerClient    // name -> client currently exposed (Active or Redirect)

	signer   *peerauth.Signer
	selfName string
}

// SetPeerSigner configures every ActiveClient this Cluster creates (past
// and future) to identify itself as selfName using signer, so its peers
// can exempt its sync traffic from their public rate limiters.
func (c *Cluster) SetPeerSigner(signer *peerauth.Signer, selfName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signer = signer
	c.selfName = selfName
	for _, ac := range c.active {
		ac.SetSigner(signer, selfName)
	}
}

// NewCluster returns a Cluster that resolves membership through dao and
// rate-limits each peer to perPeerRPS requests/second (burst perPeerBurst).
func NewCluster(dao DAOClient, httpClient *http.Client, perPeerRPS float64, perPeerBurst int) *Cluster {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Cluster{
		dao:          dao,
		httpClient:   httpClient,
		perPeerRPS:   perPeerRPS,
		perPeerBurst: perPeerBurst,
		active:       make(map[string]*ActiveClient),
		current:      make(map[string]PeerClient),
	}
}

// Refresh re-resolves membership from the DAO and probes each peer,
// rebuilding the exposed client set (§4.6). Safe to call concurrently
// with Peers/ActivePeers and with in-flight peer calls.
func (c *Cluster) Refresh(ctx context.Context) error {
	descriptors, err := c.dao.GetAllServers(ctx)
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	seen := make(map[string]struct{}, len(descriptors))
	next := make(map[string]PeerClient, len(descriptors))

	c.mu.Lock()
	for _, d := range descriptors {
		seen[d.Name] = struct{}{}

		ac, ok := c.active[d.Name]
		if !ok {
			ac = NewActiveClient(d.Name, d.BaseURL, c.httpClient, c.perPeerRPS, c.perPeerBurst)
			if c.signer != nil {
				ac.SetSigner(c.signer, c.selfName)
			}
			c.active[d.Name] = ac
		}

		if ac.Probe(probeCtx) {
			next[d.Name] = ac
		} else {
			next[d.Name] = NewRedirectClient(d.Name, c.snapshotActiveLocked)
		}
	}
	for name := range c.active {
		if _, ok := seen[name]; !ok {
			delete(c.active, name)
		}
	}
	c.current = next
	c.mu.Unlock()
	return nil
}

// snapshotActiveLocked is the closure RedirectClients fan out through. It
// takes its own read lock rather than assuming the caller holds one,
// since RedirectClient invokes it long after Refresh returns.
func (c *Cluster) snapshotActiveLocked() []PeerClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PeerClient, 0, len(c.current))
	for _, p := range c.current {
		out = append(out, p)
	}
	return out
}

// Peers returns every currently known peer, Active or Redirect.
func (c *Cluster) Peers() []PeerClient {
	return c.snapshotActiveLocked()
}

// ActivePeers returns only the peers currently exposed as Active.
func (c *Cluster) ActivePeers() []PeerClient {
	all := c.snapshotActiveLocked()
	out := make([]PeerClient, 0, len(all))
	for _, p := range all {
		if p.IsActive() {
			out = append(out, p)
		}
	}
	return out
}
