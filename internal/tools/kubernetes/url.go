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
	"net/url"
	"strings"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Target is a Kubernetes API path resolved into the parts the dynamic
// client needs.
type Target struct {
	GVR         schema.GroupVersionResource
	Namespace   string
	Name        string
	Subresource string
	Query       url.Values
}

// IsLog reports whether the target is a pod log request.
func (t Target) IsLog() bool {
	return t.Subresource == "log"
}

// String renders the target back into a canonical API path without query.
func (t Target) String() string {
	var b strings.Builder
	if t.GVR.Group == "" {
		b.WriteString("/api/" + t.GVR.Version)
	} else {
		b.WriteString("/apis/" + t.GVR.Group + "/" + t.GVR.Version)
	}
	if t.Namespace != "" {
		b.WriteString("/namespaces/" + t.Namespace)
	}
	b.WriteString("/" + t.GVR.Resource)
	if t.Name != "" {
		b.WriteString("/" + t.Name)
	}
	if t.Subresource != "" {
		b.WriteString("/" + t.Subresource)
	}
	return b.String()
}

// ParseURL resolves a Kubernetes API path such as
// /api/v1/namespaces/default/pods/web-0/log?container=app or
// /apis/apps/v1/deployments into a Target.
func ParseURL(raw string) (Target, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Target{}, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	segs := splitPath(u.Path)

	var t Target
	t.Query = u.Query()
	switch {
	case len(segs) >= 2 && segs[0] == "api":
		t.GVR.Version = segs[1]
		segs = segs[2:]
	case len(segs) >= 3 && segs[0] == "apis":
		t.GVR.Group = segs[1]
		t.GVR.Version = segs[2]
		segs = segs[3:]
	default:
		return Target{}, fmt.Errorf("url %q is not a Kubernetes API path (expected /api/<version>/... or /apis/<group>/<version>/...)", raw)
	}

	// /namespaces/<ns>/<resource>... addresses a namespaced resource;
	// /namespaces and /namespaces/<ns> address the Namespace objects.
	if len(segs) >= 3 && segs[0] == "namespaces" {
		t.Namespace = segs[1]
		segs = segs[2:]
	}

	switch len(segs) {
	case 3:
		t.Subresource = segs[2]
		fallthrough
	case 2:
		t.Name = segs[1]
		fallthrough
	case 1:
		t.GVR.Resource = segs[0]
	case 0:
		return Target{}, fmt.Errorf("url %q does not name a resource", raw)
	default:
		return Target{}, fmt.Errorf("url %q has too many path segments", raw)
	}
	return t, nil
}

func splitPath(p string) []string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
