package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticPeerList is a YAML-configured fallback peer set, used in dev/test
// clusters where DAO_ADDRESS is unset. Production
// clusters resolve peers from the DAO contract via pkg/cluster instead.
type StaticPeerList struct {
	Peers []string `yaml:"peers"`
}

// LoadStaticPeerList reads a YAML file of the form `peers: ["http://a", ...]`.
// A missing file is not an error: it yields an empty list.
func LoadStaticPeerList(path string) (*StaticPeerList, error) {
	if path == "" {
		return &StaticPeerList{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &StaticPeerList{}, nil
		}
		return nil, fmt.Errorf("config: read peer list %q: %w", path, err)
	}
	var list StaticPeerList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("config: parse peer list %q: %w", path, err)
	}
	return &list, nil
}
