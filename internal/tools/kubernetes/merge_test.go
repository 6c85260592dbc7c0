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
	"reflect"
	"testing"
)

func TestDeepMerge(t *testing.T) {
	base := map[string]any{
		"metadata": map[string]any{"name": "web", "labels": map[string]any{"app": "web", "tier": "fe"}},
		"spec": map[string]any{
			"replicas": float64(1),
			"template": map[string]any{"spec": map[string]any{
				"containers": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}},
				"livenessProbe": map[string]any{"httpGet": map[string]any{"path": "/"}},
			}},
		},
	}
	patch := map[string]any{
		"metadata": map[string]any{"labels": map[string]any{"tier": nil, "env": "prod"}},
		"spec": map[string]any{
			"replicas": float64(3),
			"template": map[string]any{"spec": map[string]any{
				"containers":    []any{map[string]any{"name": "c"}},
				"livenessProbe": nil,
			}},
		},
		"status": map[string]any{"ready": true},
	}

	got := DeepMerge(base, patch)
	want := map[string]any{
		"metadata": map[string]any{"name": "web", "labels": map[string]any{"app": "web", "env": "prod"}},
		"spec": map[string]any{
			"replicas": float64(3),
			"template": map[string]any{"spec": map[string]any{
				"containers": []any{map[string]any{"name": "c"}},
			}},
		},
		"status": map[string]any{"ready": true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DeepMerge() =\n%v\nwant\n%v", got, want)
	}

	labels := base["metadata"].(map[string]any)["labels"].(map[string]any)
	if _, ok := labels["tier"]; !ok {
		t.Error("DeepMerge modified base")
	}
}

func TestDeepMerge_ObjectReplacesScalar(t *testing.T) {
	got := DeepMerge(map[string]any{"a": "x"}, map[string]any{"a": map[string]any{"b": float64(1)}})
	if !reflect.DeepEqual(got, map[string]any{"a": map[string]any{"b": float64(1)}}) {
		t.Errorf("DeepMerge() = %v", got)
	}
}
