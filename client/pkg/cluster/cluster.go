package cluster

import (
	"fmt"
	"net/url"
	"strings"
)

const explorerBaseURL = "https://solscan.io"

// Info describes a named network endpoint.
type Info struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Endpoint    string `json:"endpoint"`
	WSEndpoint  string `json:"wsEndpoint"`
}

// ExplorerURL returns the explorer link for path (e.g. "tx/<signature>" or
// "account/<address>") on this cluster.
func (c Info) ExplorerURL(path string) string {
	path = strings.TrimPrefix(path, "/")
	return fmt.Sprintf("%s/%s%s", explorerBaseURL, path, clusterURLParam(c.Name))
}

func clusterURLParam(name string) string {
	switch name {
	case "devnet", "localnet":
		return "?cluster=" + url.QueryEscape(name)
	}
	return ""
}

// Clusters is the static cluster table. The first entry is the fallback for unknown names.
var Clusters = []Info{
	{
		Name:        "devnet",
		DisplayName: "Devnet",
		Endpoint:    "https://api.devnet.solana.com",
		WSEndpoint:  "wss://api.devnet.solana.com",
	},
	{
		Name:        "localnet",
		DisplayName: "Localnet",
		Endpoint:    "http://127.0.0.1:8899",
		WSEndpoint:  "ws://127.0.0.1:8900",
	},
}

// Registry resolves cluster names against a fixed table.
type Registry struct {
	clusters []Info
}

// NewRegistry returns a registry over clusters. It panics on an empty table, which is a
// programming error.
func NewRegistry(clusters []Info) *Registry {
	if len(clusters) == 0 {
		panic("cluster: registry requires at least one cluster")
	}
	cp := make([]Info, len(clusters))
	copy(cp, clusters)
	return &Registry{clusters: cp}
}

// DefaultRegistry returns a registry over Clusters.
func DefaultRegistry() *Registry {
	return NewRegistry(Clusters)
}

// All returns a copy of the table in registration order.
func (r *Registry) All() []Info {
	cp := make([]Info, len(r.clusters))
	copy(cp, r.clusters)
	return cp
}

// Default returns the first registered cluster.
func (r *Registry) Default() Info {
	return r.clusters[0]
}

// Lookup returns the cluster named name.
func (r *Registry) Lookup(name string) (Info, bool) {
	for _, c := range r.clusters {
		if c.Name == name {
			return c, true
		}
	}
	return Info{}, false
}

// Resolve returns the cluster named name, or the default cluster when the name is unknown.
func (r *Registry) Resolve(name string) Info {
	if c, ok := r.Lookup(name); ok {
		return c
	}
	return r.Default()
}

// Names returns the registered cluster names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.clusters))
	for i, c := range r.clusters {
		names[i] = c.Name
	}
	return names
}
