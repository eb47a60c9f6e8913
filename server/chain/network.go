package chain

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed networks.yaml
var defaultNetworks []byte

// PackageIDNotDefined marks a network the contract was never published to.
const PackageIDNotDefined = "0xNOTDEFINED"

var ErrPackageUndefined = errors.New("contract package id not defined for network")

type Network struct {
	Name        string `yaml:"-" json:"name"`
	RPCURL      string `yaml:"rpc_url" json:"rpc_url"`
	ExplorerURL string `yaml:"explorer_url" json:"explorer_url"`
	PackageID   string `yaml:"package_id" json:"package_id"`
	Faucet      bool   `yaml:"faucet" json:"faucet"`
}

// TxURL links a digest in the network's explorer.
func (n Network) TxURL(digest string) string {
	if n.ExplorerURL == "" || digest == "" {
		return ""
	}
	return n.ExplorerURL + "/txblock/" + digest
}

// ObjectURL links an object in the network's explorer.
func (n Network) ObjectURL(id string) string {
	if n.ExplorerURL == "" || id == "" {
		return ""
	}
	return n.ExplorerURL + "/object/" + id
}

type Registry struct {
	Default  string             `yaml:"default"`
	Networks map[string]Network `yaml:"networks"`
}

// LoadRegistry reads network presets from path, or the built-in presets when
// path is empty.
func LoadRegistry(path string) (Registry, error) {
	raw := defaultNetworks
	name := "networks.yaml"
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Registry{}, err
		}
		raw, name = b, path
	}
	var r Registry
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return Registry{}, fmt.Errorf("%s: %w", name, err)
	}
	if len(r.Networks) == 0 {
		return Registry{}, fmt.Errorf("%s: no networks defined", name)
	}
	for k, n := range r.Networks {
		n.Name = k
		r.Networks[k] = n
	}
	return r, nil
}

func (r Registry) Names() []string {
	out := make([]string, 0, len(r.Networks))
	for k := range r.Networks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type NetworkOverrides struct {
	RPCURL      string
	PackageID   string
	ExplorerURL string
}

// Resolve picks a network preset and applies overrides. An empty name selects
// the registry default.
func (r Registry) Resolve(name string, ov NetworkOverrides) (Network, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = r.Default
	}
	n, ok := r.Networks[name]
	if !ok {
		return Network{}, fmt.Errorf("unknown network %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	if v := strings.TrimSpace(ov.RPCURL); v != "" {
		n.RPCURL = v
	}
	if v := strings.TrimSpace(ov.ExplorerURL); v != "" {
		n.ExplorerURL = v
	}
	if v := strings.TrimSpace(ov.PackageID); v != "" {
		n.PackageID = v
	}
	n.RPCURL = strings.TrimRight(n.RPCURL, "/")
	n.ExplorerURL = strings.TrimRight(n.ExplorerURL, "/")
	if n.RPCURL == "" {
		return Network{}, fmt.Errorf("network %s: rpc url missing", name)
	}
	if n.PackageID == "" || n.PackageID == PackageIDNotDefined {
		return Network{}, fmt.Errorf("%w: %s", ErrPackageUndefined, name)
	}
	return n, nil
}
