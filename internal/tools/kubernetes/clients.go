/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package kubernetes

import (
	"fmt"
	"sort"

	"k8s.io/client-go/dynamic"
	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Cluster bundles the clients used for one cluster. Typed is only needed
// for pod logs.
type Cluster struct {
	Dynamic dynamic.Interface
	Typed   k8sclient.Interface
}

// NewCluster builds both clients from a rest config.
func NewCluster(cfg *rest.Config) (*Cluster, error) {
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating dynamic client: %w", err)
	}
	typed, err := k8sclient.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating clientset: %w", err)
	}
	return &Cluster{Dynamic: dyn, Typed: typed}, nil
}

// ClusterSet maps cluster names to clients. The empty name is the default
// cluster used when the UI has no cluster selected.
type ClusterSet map[string]*Cluster

// Get returns the clients for name.
func (s ClusterSet) Get(name string) (*Cluster, error) {
	if c, ok := s[name]; ok {
		return c, nil
	}
	if name == "" && len(s) == 1 {
		for _, c := range s {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown cluster %q (known: %v)", name, s.Names())
}

// Names returns the configured cluster names, sorted.
func (s ClusterSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// LoadClusterSet builds a ClusterSet from kubeconfig contexts. The default
// entry uses base when it is non-nil, otherwise the current context. An
// empty kubeconfig path uses the standard loading rules.
func LoadClusterSet(base *rest.Config, kubeconfig string, contexts []string) (ClusterSet, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}

	set := ClusterSet{}
	if base == nil {
		cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig: %w", err)
		}
		base = cfg
	}
	def, err := NewCluster(base)
	if err != nil {
		return nil, err
	}
	set[""] = def

	for _, name := range contexts {
		cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules,
			&clientcmd.ConfigOverrides{CurrentContext: name}).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("loading context %q: %w", name, err)
		}
		c, err := NewCluster(cfg)
		if err != nil {
			return nil, fmt.Errorf("context %q: %w", name, err)
		}
		set[name] = c
	}
	return set, nil
}
