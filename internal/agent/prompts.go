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

package agent

import (
	"fmt"
	"slices"
	"strings"

	"github.com/osagberg/kube-assist-agent/internal/tools"
)

// KubernetesToolName is the built-in tool whose presence switches the system
// prompt to the live-data variant.
const KubernetesToolName = "kubernetes_api_request"

const yamlFence = "```yaml\n" +
	"apiVersion: v1\n" +
	"kind: <Kind>\n" +
	"metadata:\n" +
	"  name: <name>\n" +
	"spec:\n" +
	"  # configuration\n" +
	"```\n"

const basePrompt = `You are an assistant embedded in a Kubernetes management UI. You can inspect
clusters, explain resources and generate manifests. Additional capabilities may
be available through external tools.

TOOL USAGE:
- Check the tools available to you and call one whenever it can answer the question.
- "show me the pods" with kubernetes_api_request available: call it right away.
- When the user wants to learn a concept, explain first and use tools only for examples.
- After fetching data, explain what it means instead of repeating the raw output.

RULES:
- Never suggest kubectl or other CLI commands; the user is working in a web UI.
- For requests to create or change resources, reply with the manifest in a yaml code block.
- When no tool matches a request, say so plainly.
- Refer to clusters and resources from the current context by name.

YAML FORMAT:
` + yamlFence + `
RESPONSES:
- Use concise markdown.
- Summarize resource status rather than printing full objects unless asked.
- Finish with three follow-up questions on one line:
  SUGGESTIONS: <question 1> | <question 2> | <question 3>
- Keep each suggestion under 60 characters, plain text, unnumbered.`

const toolsDisabledPrompt = `You are an assistant embedded in a Kubernetes management UI.

Live cluster access is disabled in the assistant settings, so you cannot read
current pods, deployments, services or any other resource. When the user asks
for live data, explain this and suggest enabling the kubernetes_api_request tool.

You can still explain Kubernetes concepts, review manifests the user pastes and
write new ones. Put manifests in yaml code blocks and never suggest kubectl or
other CLI commands.

RESPONSES:
- Use concise markdown.
- Finish with three follow-up questions on one line:
  SUGGESTIONS: <question 1> | <question 2> | <question 3>
- Keep each suggestion under 60 characters, plain text, unnumbered.`

const externalToolGuidance = `EXTERNAL TOOLS:
Tools named <server>__<tool> are served by external MCP servers. Pass exactly the
arguments their schema declares. Their output may be large or loosely formatted;
extract what answers the question. If one fails, report the failure and try
another approach instead of repeating the same call.`

const followUpGuidance = `You have just received the results of the tools you called. Answer the
user's question from those results. Do not call more tools unless the results
are insufficient to answer.`

// Fixed assistant replies.
const (
	toolsDisabledReply = "I apologize, but I cannot use tools as they have been disabled in your settings."
	cancelledReply     = "Request cancelled."
	errorReplyPrefix   = "Sorry, there was an error processing your request: "
)

// SystemPrompt assembles the system prompt for a round. followUp is true for
// rounds that answer tool results.
func SystemPrompt(enabled []string, external bool, toolCtx tools.Context, followUp bool) string {
	var sb strings.Builder
	if slices.Contains(enabled, KubernetesToolName) {
		sb.WriteString(basePrompt)
	} else {
		sb.WriteString(toolsDisabledPrompt)
	}
	if external {
		sb.WriteString("\n\n")
		sb.WriteString(externalToolGuidance)
	}
	if followUp {
		sb.WriteString("\n\n")
		sb.WriteString(followUpGuidance)
	}
	if ctx := contextBlock(toolCtx); ctx != "" {
		sb.WriteString("\n\nCURRENT CONTEXT:\n")
		sb.WriteString(ctx)
	}
	return sb.String()
}

func contextBlock(c tools.Context) string {
	var lines []string
	if len(c.SelectedClusters) > 0 {
		lines = append(lines, "Selected clusters: "+strings.Join(c.SelectedClusters, ", "))
	}
	if c.Namespace != "" {
		lines = append(lines, "Namespace: "+c.Namespace)
	}
	if c.CurrentResource != "" {
		lines = append(lines, "Current resource: "+c.CurrentResource)
	}
	if s := strings.TrimSpace(c.Summary); s != "" {
		lines = append(lines, s)
	}
	return strings.Join(lines, "\n")
}

// FailureDigest renders the system notice listing failed operations, one
// "tool: message" line each.
func FailureDigest(failures []string) string {
	var sb strings.Builder
	sb.WriteString("CRITICAL: The following operations failed and must be reported to the user:\n\n")
	for _, f := range failures {
		sb.WriteString("- ")
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	sb.WriteString("\nYou MUST:\n")
	sb.WriteString("1. Tell the user clearly that these operations failed\n")
	sb.WriteString("2. Explain in simple terms what went wrong\n")
	sb.WriteString("3. Suggest concrete next steps or alternatives\n")
	sb.WriteString("4. Not hide or downplay these errors\n")
	sb.WriteString("\nMake the errors prominent and actionable in your reply.")
	return sb.String()
}

// disabledToolsReply explains that every requested tool is disabled.
func disabledToolsReply(names []string) string {
	list := strings.Join(names, ", ")
	return fmt.Sprintf("I understand you're asking for cluster data, but I cannot access live Kubernetes "+
		"information because the required tools (%s) are currently disabled in your settings.\n\n"+
		"To get real-time cluster data, you'll need to:\n"+
		"1. Open the AI assistant settings\n"+
		"2. Enable the %q tool\n"+
		"3. Ask your question again\n\n"+
		"Without access to the Kubernetes API, I cannot fetch current pod, deployment, service, "+
		"or other resource information from your cluster.", list, list)
}
