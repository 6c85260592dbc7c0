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
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/osagberg/kube-assist-agent/internal/ai"
	"github.com/osagberg/kube-assist-agent/internal/approval"
	"github.com/osagberg/kube-assist-agent/internal/tools"
)

// expectAligned asserts that every call of every tool round has exactly one
// tool entry before the next tool round.
func expectAligned(history []Entry) {
	for i, e := range history {
		if !e.HasToolCalls() {
			continue
		}
		end := len(history)
		for j := i + 1; j < len(history); j++ {
			if history[j].HasToolCalls() {
				end = j
				break
			}
		}
		for _, c := range e.ToolCalls {
			count := 0
			for _, later := range history[i+1 : end] {
				if later.Role == RoleTool && later.ToolCallID == c.ID {
					count++
				}
			}
			ExpectWithOffset(1, count).To(Equal(1), "tool call %s answered %d times", c.ID, count)
		}
	}
}

var _ = ginkgo.Describe("Orchestrator", func() {
	var ctx context.Context

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
	})

	ginkgo.Context("auto-approved tool round", func() {
		ginkgo.It("records the call, its result and the final answer", func() {
			inv := newInvoker(
				callTools(toolCall("c1", "k8s_get", `{"url":"/api/v1/pods"}`)),
				reply("Here are 3 pods"),
			)
			reg := mustRegistry(&stubTool{name: "k8s_get", exec: returning("3 items")})
			o := New(inv, reg, autoGate(), Config{})
			o.ConfigureTools([]string{"k8s_get"}, tools.Context{})

			entry, err := o.UserSend(ctx, "list pods")
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.Content).To(Equal("Here are 3 pods"))

			h := o.History()
			Expect(h).To(HaveLen(4))
			Expect(h[0]).To(Equal(UserEntry("list pods")))
			Expect(h[1].Role).To(Equal(RoleAssistant))
			Expect(h[1].ToolCalls).To(HaveLen(1))
			Expect(h[1].ToolCalls[0].ID).To(Equal("c1"))
			Expect(h[1].ToolCalls[0].Name).To(Equal("k8s_get"))
			Expect(h[2]).To(Equal(ToolEntry("c1", "k8s_get", "3 items", false)))
			Expect(h[3]).To(Equal(AssistantEntry("Here are 3 pods", nil)))
		})
	})

	ginkgo.Context("denied tool round", func() {
		ginkgo.It("stops with the assistant entry and no tool entry", func() {
			inv := newInvoker(
				callTools(toolCall("c1", "k8s_get", `{"url":"/api/v1/pods"}`)),
				reply("must not be used"),
			)
			reg := mustRegistry(&stubTool{name: "k8s_get", typ: tools.TypeExternal, exec: returning("3 items")})
			o := New(inv, reg, denyingGate(), Config{})
			o.ConfigureTools([]string{"k8s_get"}, tools.Context{})

			entry, err := o.UserSend(ctx, "list pods")
			Expect(err).NotTo(HaveOccurred())

			h := o.History()
			Expect(h).To(HaveLen(2))
			Expect(h[0].Role).To(Equal(RoleUser))
			Expect(h[1].ToolCalls).To(HaveLen(1))
			Expect(entry).To(Equal(h[1]))
			Expect(inv.rounds()).To(Equal(1))
		})
	})

	ginkgo.Context("a tool throws", func() {
		ginkgo.It("records an error entry and a failure digest and still follows up", func() {
			inv := newInvoker(
				callTools(toolCall("c1", "k8s_get", `{"url":"/api/v1/pods"}`)),
				reply("The request timed out."),
			)
			reg := mustRegistry(&stubTool{name: "k8s_get", exec: throwing("timeout")})
			o := New(inv, reg, autoGate(), Config{})
			o.ConfigureTools([]string{"k8s_get"}, tools.Context{})

			_, err := o.UserSend(ctx, "list pods")
			Expect(err).NotTo(HaveOccurred())
			Expect(inv.rounds()).To(Equal(2))

			h := o.History()
			te := toolEntries(h)
			Expect(te).To(HaveLen(1))
			Expect(te[0].ToolCallID).To(Equal("c1"))
			Expect(te[0].Error).To(BeTrue())

			var body map[string]any
			Expect(json.Unmarshal([]byte(te[0].Content), &body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("error", true))
			Expect(body).To(HaveKeyWithValue("message", "timeout"))
			Expect(body).To(HaveKeyWithValue("toolName", "k8s_get"))
			Expect(body).To(HaveKey("request"))

			var digests []Entry
			for _, e := range h {
				if e.Role == RoleSystem {
					digests = append(digests, e)
				}
			}
			Expect(digests).To(HaveLen(1))
			Expect(digests[0].Content).To(ContainSubstring("- k8s_get: timeout"))

			ginkgo.By("forwarding the digest to the follow-up round")
			var forwarded bool
			for _, m := range inv.request(1).Messages {
				if m.Role == ai.RoleSystem && strings.Contains(m.Content, "k8s_get: timeout") {
					forwarded = true
				}
			}
			Expect(forwarded).To(BeTrue())
		})
	})

	ginkgo.Context("abort during the first model call", func() {
		ginkgo.It("resolves to a cancelled entry without tool activity", func() {
			started := make(chan struct{})
			inv := newInvoker(blockUntilCancelled(started))
			reg := mustRegistry(&stubTool{name: "k8s_get", exec: returning("3 items")})
			o := New(inv, reg, autoGate(), Config{})
			o.ConfigureTools([]string{"k8s_get"}, tools.Context{})

			result := make(chan Entry, 1)
			go func() {
				defer ginkgo.GinkgoRecover()
				entry, err := o.UserSend(ctx, "list pods")
				Expect(err).NotTo(HaveOccurred())
				result <- entry
			}()
			Eventually(started).Should(BeClosed())
			o.Abort()

			var entry Entry
			Eventually(result).Should(Receive(&entry))
			Expect(entry).To(Equal(ErrorEntry("Request cancelled.")))
			for _, e := range o.History() {
				Expect(e.HasToolCalls()).To(BeFalse())
				Expect(e.Role).NotTo(Equal(RoleTool))
			}
		})
	})

	ginkgo.Describe("properties", func() {
		// scripted answers to a user message prefixed with "tools:" by
		// requesting one call per listed tool; IDs derive from the message
		// count so replays are identical.
		deterministic := func() *funcInvoker {
			return &funcInvoker{fn: func(req ai.Request) *ai.Response {
				last := req.Messages[len(req.Messages)-1]
				if last.Role == ai.RoleUser && strings.HasPrefix(last.Content, "tools:") {
					var calls []ai.ToolCall
					for i, name := range strings.Split(strings.TrimPrefix(last.Content, "tools:"), ",") {
						calls = append(calls, ai.ToolCall{
							ID:   fmt.Sprintf("call-%d-%d", len(req.Messages), i),
							Name: name,
							Args: json.RawMessage(`{"url":"/api/v1/pods"}`),
						})
					}
					return &ai.Response{ToolCalls: calls}
				}
				return &ai.Response{Content: fmt.Sprintf("answer after %d messages", len(req.Messages))}
			}}
		}

		newRegistry := func() *tools.Registry {
			return mustRegistry(
				&stubTool{name: "ok", exec: returning("fine")},
				&stubTool{name: "boom", exec: throwing("exploded")},
				&stubTool{name: "write", exec: func(context.Context, tools.Call) (tools.Result, error) {
					return tools.Result{Content: `{"status":"pending_confirmation"}`}, nil
				}},
				&stubTool{name: "huge", exec: returning(strings.Repeat("z", 4096))},
			)
		}

		// approves everything except calls to "write" when the batch also
		// holds other calls, and denies batches that only call "deny".
		selective := approverFunc(func(calls []tools.Call) ([]string, error) {
			var ids []string
			for _, c := range calls {
				if c.Name == "deny" {
					continue
				}
				if c.Name == "write" && len(calls) > 1 {
					continue
				}
				ids = append(ids, c.ID)
			}
			if len(ids) == 0 {
				return nil, approval.ErrDenied
			}
			return ids, nil
		})

		script := []string{
			"hello",
			"tools:ok,boom",
			"tools:deny",
			"tools:write",
			"tools:ok,write",
			"tools:huge",
			"thanks",
		}
		enabled := []string{"ok", "boom", "deny", "write", "huge"}

		ginkgo.It("every tool call is answered exactly once", func() {
			o := New(deterministic(), newRegistry(), selective, Config{})
			o.ConfigureTools(enabled, tools.Context{})
			for _, text := range script {
				_, err := o.UserSend(ctx, text)
				Expect(err).NotTo(HaveOccurred())
			}
			expectAligned(o.History())
		})

		ginkgo.It("exactly the approved calls get tool entries", func() {
			reg := mustRegistry(&stubTool{name: "ok", exec: func(context.Context, tools.Call) (tools.Result, error) {
				return tools.Result{Content: "fine", ShouldAddToHistory: true}, nil
			}})
			inv := newInvoker(callTools(
				toolCall("a", "ok", `{}`),
				toolCall("b", "ok", `{}`),
				toolCall("c", "ok", `{}`),
			))
			o := New(inv, reg, &staticApprover{ids: []string{"a", "c"}}, Config{})
			o.ConfigureTools([]string{"ok"}, tools.Context{})

			_, err := o.UserSend(ctx, "go")
			Expect(err).NotTo(HaveOccurred())

			var ids []string
			for _, e := range toolEntries(o.History()) {
				ids = append(ids, e.ToolCallID)
			}
			Expect(ids).To(Equal([]string{"a", "c"}))
			Expect(inv.rounds()).To(Equal(1))
		})

		ginkgo.It("replaying after reset yields an identical history", func() {
			o := New(deterministic(), newRegistry(), selective, Config{Greeting: "Hi!"})
			o.ConfigureTools(enabled, tools.Context{})

			play := func() []byte {
				for _, text := range script {
					_, err := o.UserSend(ctx, text)
					Expect(err).NotTo(HaveOccurred())
				}
				data, err := json.Marshal(o.History())
				Expect(err).NotTo(HaveOccurred())
				return data
			}

			first := play()
			o.Reset()
			second := play()
			Expect(second).To(Equal(first))
		})

		ginkgo.It("display-only entries never reach the model", func() {
			inv := deterministic()
			o := New(inv, newRegistry(), selective, Config{Greeting: "Welcome to the cluster assistant"})
			o.ConfigureTools(enabled, tools.Context{})
			for _, text := range []string{"tools:write", "hello"} {
				_, err := o.UserSend(ctx, text)
				Expect(err).NotTo(HaveOccurred())
			}

			var display []string
			for _, e := range o.History() {
				if e.DisplayOnly {
					display = append(display, e.Content)
				}
			}
			Expect(display).To(ContainElements("Welcome to the cluster assistant", `{"status":"pending_confirmation"}`))

			for _, req := range inv.allRequests() {
				for _, m := range req.Messages {
					Expect(m.Content).NotTo(ContainSubstring("Welcome to the cluster assistant"))
					Expect(m.Content).NotTo(ContainSubstring("pending_confirmation"))
				}
			}
			last := inv.allRequests()[len(inv.allRequests())-1]
			Expect(last.Messages).To(ContainElement(HaveField("Content", AwaitingConfirmation)))
			Expect(last.Messages).NotTo(ContainElement(HaveField("Content", NoResponseRecorded)))
		})

		ginkgo.It("oversized tool output is capped and keeps its call ID", func() {
			const limit = 256
			o := New(deterministic(), newRegistry(), selective, Config{ToolContentCap: limit})
			o.ConfigureTools(enabled, tools.Context{})

			_, err := o.UserSend(ctx, "tools:huge")
			Expect(err).NotTo(HaveOccurred())

			te := toolEntries(o.History())
			Expect(te).To(HaveLen(1))
			Expect(len(te[0].Content)).To(BeNumerically("<=", limit+len(TruncationMarker)))
			Expect(te[0].Content).To(HaveSuffix(TruncationMarker))
			Expect(te[0].ToolCallID).To(Equal("call-1-0"))
		})
	})
})
