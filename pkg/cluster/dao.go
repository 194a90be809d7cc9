package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PeerDescriptor is one entry in the DAO's membership list.
type PeerDescriptor struct {
	Name    string
	BaseURL string
}

// DAOClient resolves the current set of peer base URLs (§4.6). A static
// list and an HTTP registry-backed implementation are both provided;
// DAO_ADDRESS selects between them.
type DAOClient interface {
	GetAllServers(ctx context.Context) ([]PeerDescriptor, error)
}

// StaticDAOClient returns a fixed membership list, for single-node
// deployments or tests where no live DAO registry is configured.
type StaticDAOClient struct {
	peers []PeerDescriptor
}

func NewStaticDAOClient(peers ...PeerDescriptor) *StaticDAOClient {
	return &StaticDAOClient{peers: peers}
}

func (s *StaticDAOClient) GetAllServers(context.Context) ([]PeerDescriptor, error) {
	return s.peers, nil
}

// HTTPDAOClient resolves cluster membership from a DAO registry endpoint
// that answers with a JSON array of {name, baseUrl} objects, the same
// shape catalog/governance registries in this module's corpus expose.
type HTTPDAOClient struct {
	url    string
	client *http.Client
}

func NewHTTPDAOClient(url string, client *http.Client) *HTTPDAOClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPDAOClient{url: url, client: client}
}

func (h *HTTPDAOClient) GetAllServers(ctx context.Context) ([]PeerDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cluster: querying DAO at %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cluster: DAO at %s returned %d", h.url, resp.StatusCode)
	}

	var entries []struct {
		Name    string `json:"name"`
		BaseURL string `json:"baseUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("cluster: decoding DAO response: %w", err)
	}

	out := make([]PeerDescriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, PeerDescriptor{Name: e.Name, BaseURL: e.BaseURL})
	}
	return out, nil
}

// DAOFromAddress picks a DAOClient implementation from the DAO_ADDRESS
// environment value: an http(s) URL selects HTTPDAOClient; a comma
// separated "name=baseUrl" list (or an empty value, meaning this node is
// alone) selects StaticDAOClient.
func DAOFromAddress(address string, client *http.Client) DAOClient {
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return NewHTTPDAOClient(address, client)
	}
	if address == "" {
		return NewStaticDAOClient()
	}
	var peers []PeerDescriptor
	for _, entry := range strings.Split(address, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, baseURL, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		peers = append(peers, PeerDescriptor{Name: name, BaseURL: baseURL})
	}
	return NewStaticDAOClient(peers...)
}
