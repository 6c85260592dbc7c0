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

// Package kubernetes implements the built-in kubernetes_api_request tool.
// Reads run immediately; writes are returned as pending confirmations and
// performed later through Apply once the user has reviewed them.
package kubernetes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/yaml"

	"github.com/osagberg/kube-assist-agent/internal/ai"
	"github.com/osagberg/kube-assist-agent/internal/tools"
)

var log = logf.Log.WithName("tools.kubernetes")

// ToolName is the name the model uses to call this tool.
const ToolName = "kubernetes_api_request"

// StatusPendingConfirmation marks a write that waits for user review.
const StatusPendingConfirmation = "pending_confirmation"

const (
	defaultCacheCapacity = 128
	defaultCacheTTL      = 10 * time.Second
	defaultLogTailLines  = 500
)

const toolDescription = `Make requests to the Kubernetes API server to fetch, create, update or delete resources.

RESOURCE UPDATE GUIDELINES:
- For UPDATE/MODIFY/CHANGE operations use PUT with ONLY the fields to change.
- The patch is merged with the current resource before the PUT is sent.
- Use null values to remove fields (e.g. {"spec": {"livenessProbe": null}}).
- POST takes the complete resource definition as YAML or JSON.
- Every write is shown to the user for confirmation before it is applied.

LOG HANDLING:
- Pod logs are read from /api/v1/namespaces/<ns>/pods/<pod>/log.
- For multi-container pods, check the pod spec first and pass ?container=<name>.
- If the user did not say which container, list the containers and ask.`

// Request is a decoded kubernetes_api_request call.
type Request struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Body   string `json:"body,omitempty"`
}

type requestArgs struct {
	URL    string `mapstructure:"url"`
	Method string `mapstructure:"method"`
	Body   any    `mapstructure:"body"`
}

// Tool is the built-in Kubernetes API tool.
type Tool struct {
	clusters     ClusterSet
	cache        *responseCache
	logTailLines int64
}

// Option configures a Tool.
type Option func(*Tool)

// WithCache sets the GET response cache size and TTL. Non-positive values
// disable caching.
func WithCache(capacity int, ttl time.Duration) Option {
	return func(t *Tool) {
		t.cache = newResponseCache(capacity, ttl)
	}
}

// WithLogTailLines limits pod log reads that do not set tailLines.
func WithLogTailLines(n int64) Option {
	return func(t *Tool) {
		t.logTailLines = n
	}
}

// New creates the tool over the given clusters.
func New(clusters ClusterSet, opts ...Option) *Tool {
	t := &Tool{
		clusters:     clusters,
		cache:        newResponseCache(defaultCacheCapacity, defaultCacheTTL),
		logTailLines: defaultLogTailLines,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Definition describes the tool to the model.
func (t *Tool) Definition() ai.ToolDef {
	return ai.ToolDef{
		Name:        ToolName,
		Description: toolDescription,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to request, e.g. /api/v1/pods or /api/v1/namespaces/default/pods/pod-name",
				},
				"method": map[string]any{
					"type":        "string",
					"description": "HTTP method: GET, POST, PUT, PATCH or DELETE. Use PUT for updating specific fields of existing resources.",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "Optional request body. For PUT only the fields to change; for POST the complete resource.",
				},
			},
			"required": []string{"url", "method"},
		},
	}
}

// Type reports a built-in tool.
func (t *Tool) Type() tools.Type {
	return tools.TypeBuiltin
}

// Execute runs GET requests immediately. Other methods return a pending
// confirmation that is neither recorded nor followed up.
func (t *Tool) Execute(ctx context.Context, call tools.Call, toolCtx tools.Context) (tools.Result, error) {
	req, err := DecodeRequest(call.Arguments)
	if err != nil {
		return tools.Result{}, err
	}

	switch req.Method {
	case "GET":
		content, err := t.Get(ctx, toolCtx.Cluster(), req.URL)
		if err != nil {
			return getErrorResult(req, err), nil
		}
		return tools.Ok(content), nil
	case "POST", "PUT", "PATCH", "DELETE":
		if _, err := ParseURL(req.URL); err != nil {
			return tools.Result{}, err
		}
		return pendingConfirmation(call.ID, req), nil
	default:
		return tools.Result{}, fmt.Errorf("unsupported method %q", req.Method)
	}
}

// DecodeRequest decodes tool arguments. The method defaults to GET and a
// non-string body is re-encoded as JSON.
func DecodeRequest(args map[string]any) (Request, error) {
	var raw requestArgs
	if err := mapstructure.Decode(args, &raw); err != nil {
		return Request{}, fmt.Errorf("invalid arguments: %w", err)
	}
	req := Request{
		Method: strings.ToUpper(strings.TrimSpace(raw.Method)),
		URL:    strings.TrimSpace(raw.URL),
	}
	if req.Method == "" {
		req.Method = "GET"
	}
	if req.URL == "" {
		return Request{}, errors.New("url is required")
	}
	switch body := raw.Body.(type) {
	case nil:
	case string:
		req.Body = body
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return Request{}, fmt.Errorf("invalid body: %w", err)
		}
		req.Body = string(data)
	}
	return req, nil
}

// Get reads rawURL from cluster and returns the response as JSON.
func (t *Tool) Get(ctx context.Context, cluster, rawURL string) (string, error) {
	key := cacheKey(cluster, rawURL)
	if content, ok := t.cache.get(key); ok {
		tools.RecordCacheLookup(ToolName, true)
		return content, nil
	}
	if t.cache != nil {
		tools.RecordCacheLookup(ToolName, false)
	}

	target, err := ParseURL(rawURL)
	if err != nil {
		return "", err
	}
	c, err := t.clusters.Get(cluster)
	if err != nil {
		return "", err
	}

	var content string
	if target.IsLog() {
		content, err = t.podLogs(ctx, c, target)
	} else {
		content, err = getResource(ctx, c.Dynamic, target)
	}
	if err != nil {
		return "", err
	}
	t.cache.put(key, content)
	return content, nil
}

func getResource(ctx context.Context, dyn dynamic.Interface, target Target) (string, error) {
	ri := resourceClient(dyn, target)
	var obj any
	if target.Name == "" {
		opts := metav1.ListOptions{
			LabelSelector: target.Query.Get("labelSelector"),
			FieldSelector: target.Query.Get("fieldSelector"),
		}
		if limit, err := strconv.ParseInt(target.Query.Get("limit"), 10, 64); err == nil && limit > 0 {
			opts.Limit = limit
		}
		list, err := ri.List(ctx, opts)
		if err != nil {
			return "", err
		}
		for i := range list.Items {
			stripManagedFields(list.Items[i].Object)
		}
		obj = list
	} else {
		var subresources []string
		if target.Subresource != "" {
			subresources = append(subresources, target.Subresource)
		}
		u, err := ri.Get(ctx, target.Name, metav1.GetOptions{}, subresources...)
		if err != nil {
			return "", err
		}
		stripManagedFields(u.Object)
		obj = u
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("encoding response: %w", err)
	}
	return string(data), nil
}

// podLogs reads logs through the typed client; the dynamic client cannot
// decode the plain-text log stream.
func (t *Tool) podLogs(ctx context.Context, c *Cluster, target Target) (string, error) {
	if target.GVR.Resource != "pods" || target.Namespace == "" {
		return "", fmt.Errorf("logs are only available for namespaced pods, got %s", target.String())
	}
	if c.Typed == nil {
		return "", errors.New("pod logs are not available for this cluster")
	}

	opts := &corev1.PodLogOptions{
		Container: target.Query.Get("container"),
		Previous:  target.Query.Get("previous") == "true",
	}
	if n, err := strconv.ParseInt(target.Query.Get("tailLines"), 10, 64); err == nil && n > 0 {
		opts.TailLines = &n
	} else if t.logTailLines > 0 {
		tail := t.logTailLines
		opts.TailLines = &tail
	}
	if s, err := strconv.ParseInt(target.Query.Get("sinceSeconds"), 10, 64); err == nil && s > 0 {
		opts.SinceSeconds = &s
	}

	raw, err := c.Typed.CoreV1().Pods(target.Namespace).GetLogs(target.Name, opts).DoRaw(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(map[string]any{
		"kind":      "PodLogs",
		"namespace": target.Namespace,
		"pod":       target.Name,
		"container": opts.Container,
		"logs":      string(raw),
	})
	if err != nil {
		return "", fmt.Errorf("encoding logs: %w", err)
	}
	return string(data), nil
}

// Apply performs a confirmed write against cluster and returns the
// resulting object as JSON.
func (t *Tool) Apply(ctx context.Context, cluster string, req Request) (string, error) {
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	target, err := ParseURL(req.URL)
	if err != nil {
		return "", err
	}
	c, err := t.clusters.Get(cluster)
	if err != nil {
		return "", err
	}
	defer t.cache.invalidateCluster(cluster)

	var result any
	switch req.Method {
	case "POST":
		obj, err := parseBody(req.Body)
		if err != nil {
			return "", err
		}
		u := &unstructured.Unstructured{Object: obj}
		if target.Namespace == "" && u.GetNamespace() != "" && target.GVR.Resource != "namespaces" {
			target.Namespace = u.GetNamespace()
		}
		result, err = resourceClient(c.Dynamic, target).Create(ctx, u, metav1.CreateOptions{})
		if err != nil {
			return "", err
		}
	case "PUT":
		if target.Name == "" {
			return "", errors.New("PUT requires a resource name in the url")
		}
		patch, err := parseBody(req.Body)
		if err != nil {
			return "", err
		}
		ri := resourceClient(c.Dynamic, target)
		current, err := ri.Get(ctx, target.Name, metav1.GetOptions{})
		if err != nil {
			return "", fmt.Errorf("reading current resource: %w", err)
		}
		merged := &unstructured.Unstructured{Object: DeepMerge(current.Object, patch)}
		result, err = ri.Update(ctx, merged, metav1.UpdateOptions{})
		if err != nil {
			return "", err
		}
	case "PATCH":
		if target.Name == "" {
			return "", errors.New("PATCH requires a resource name in the url")
		}
		patch, err := parseBody(req.Body)
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(patch)
		if err != nil {
			return "", fmt.Errorf("encoding patch: %w", err)
		}
		result, err = resourceClient(c.Dynamic, target).Patch(ctx, target.Name, types.MergePatchType, data, metav1.PatchOptions{})
		if err != nil {
			return "", err
		}
	case "DELETE":
		if target.Name == "" {
			return "", errors.New("DELETE requires a resource name in the url")
		}
		if err := resourceClient(c.Dynamic, target).Delete(ctx, target.Name, metav1.DeleteOptions{}); err != nil {
			return "", err
		}
		result = map[string]any{
			"status":  "Success",
			"message": fmt.Sprintf("%s %q deleted", target.GVR.Resource, target.Name),
		}
	default:
		return "", fmt.Errorf("unsupported method %q", req.Method)
	}

	log.Info("Applied Kubernetes request", "method", req.Method, "url", target.String(), "cluster", cluster)
	if u, ok := result.(*unstructured.Unstructured); ok {
		stripManagedFields(u.Object)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encoding response: %w", err)
	}
	return string(data), nil
}

func resourceClient(dyn dynamic.Interface, target Target) dynamic.ResourceInterface {
	if target.Namespace == "" {
		return dyn.Resource(target.GVR)
	}
	return dyn.Resource(target.GVR).Namespace(target.Namespace)
}

// parseBody accepts YAML or JSON; JSON is valid YAML.
func parseBody(body string) (map[string]any, error) {
	if strings.TrimSpace(body) == "" {
		return nil, errors.New("request body is required")
	}
	data, err := yaml.YAMLToJSON([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse body as YAML or JSON: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return nil, errors.New("request body must be an object")
	}
	return obj, nil
}

func stripManagedFields(obj map[string]any) {
	unstructured.RemoveNestedField(obj, "metadata", "managedFields")
}

func pendingConfirmation(callID string, req Request) tools.Result {
	var body any
	if req.Body != "" {
		body = req.Body
	}
	data, _ := json.Marshal(map[string]any{
		"status":     StatusPendingConfirmation,
		"message":    fmt.Sprintf("This %s request requires confirmation before proceeding.", req.Method),
		"toolCallId": callID,
		"request": map[string]any{
			"method": req.Method,
			"url":    req.URL,
			"body":   body,
		},
	})
	return tools.Result{Content: string(data)}
}

func getErrorResult(req Request, err error) tools.Result {
	body := map[string]any{
		"error":   true,
		"message": fmt.Sprintf("Error executing GET request: %v", err),
		"request": map[string]any{
			"method": req.Method,
			"url":    req.URL,
		},
	}
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		body["status"] = status.Status().Code
		body["reason"] = string(status.Status().Reason)
	}
	data, _ := json.Marshal(body)
	return tools.Ok(string(data))
}
