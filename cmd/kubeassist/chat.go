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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/osagberg/kube-assist-agent/internal/agent"
	"github.com/osagberg/kube-assist-agent/internal/approval"
	"github.com/osagberg/kube-assist-agent/internal/tools"
	"github.com/osagberg/kube-assist-agent/internal/tools/kubernetes"
)

const maxResultPreview = 300

// Applier runs a write that the model proposed and the user confirmed.
type Applier interface {
	Apply(ctx context.Context, cluster string, req kubernetes.Request) (string, error)
}

// terminal drives one conversation from line-oriented input.
type terminal struct {
	orch      *agent.Orchestrator
	gate      *approval.Gate
	registry  *tools.Registry
	applier   Applier
	out       io.Writer
	lines     <-chan string
	interrupt <-chan os.Signal
	approvals chan approval.Request

	// deferred holds writes waiting for confirmation after the turn.
	deferred []agent.Event
	args     map[string]json.RawMessage
}

// notify is the gate notifier. The gate holds at most one pending request.
func (t *terminal) notify(req approval.Request) {
	select {
	case t.approvals <- req:
	default:
		fmt.Fprintf(t.out, "%sdropped approval request %s%s\n", colorYellow, req.ID, colorReset)
	}
}

// run reads input until EOF or /quit.
func (t *terminal) run(ctx context.Context) error {
	t.prompt()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.interrupt:
			fmt.Fprintln(t.out)
			return nil
		case line, ok := <-t.lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case strings.HasPrefix(line, "/"):
				if quit := t.command(line); quit {
					return nil
				}
			default:
				t.turn(ctx, line)
				t.confirmDeferred(ctx)
			}
			t.prompt()
		}
	}
}

func (t *terminal) prompt() {
	fmt.Fprintf(t.out, "%s%s>%s ", colorBold, colorBlue, colorReset)
}

// turn runs one turn and answers approval prompts while it is in flight.
// An interrupt aborts the turn.
func (t *terminal) turn(ctx context.Context, text string) {
	done := make(chan error, 1)
	go func() {
		_, err := t.orch.RunTurn(ctx, text, t.printEvent)
		done <- err
	}()
	for {
		select {
		case err := <-done:
			if err != nil {
				fmt.Fprintf(t.out, "%s%v%s\n", colorRed, err, colorReset)
			}
			return
		case req := <-t.approvals:
			t.askApproval(req)
		case <-t.interrupt:
			t.orch.Abort()
		}
	}
}

func (t *terminal) askApproval(req approval.Request) {
	fmt.Fprintf(t.out, "\n%s%sApproval required%s\n", colorBold, colorYellow, colorReset)
	for i, call := range req.Calls {
		args, _ := json.Marshal(call.Arguments)
		fmt.Fprintf(t.out, "  %d. %s%s%s %s\n", i+1, colorCyan, call.Name, colorReset, args)
		if call.Description != "" {
			fmt.Fprintf(t.out, "     %s%s%s\n", colorDim, call.Description, colorReset)
		}
	}
	fmt.Fprint(t.out, "Run? [y]es / [n]o / [a]lways for these tools: ")

	var err error
	select {
	case answer, ok := <-t.lines:
		if !ok {
			err = t.gate.Deny(req.ID)
			break
		}
		ids := make([]string, 0, len(req.Calls))
		for _, call := range req.Calls {
			ids = append(ids, call.ID)
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			err = t.gate.Resolve(req.ID, ids, false)
		case "a", "always":
			err = t.gate.Resolve(req.ID, ids, true)
		default:
			err = t.gate.Deny(req.ID)
		}
	case <-t.interrupt:
		t.orch.Abort()
	}
	if err != nil {
		fmt.Fprintf(t.out, "%s%v%s\n", colorRed, err, colorReset)
	}
}

func (t *terminal) printEvent(ev agent.Event) {
	switch ev.Type {
	case agent.EventThinking:
		fmt.Fprintf(t.out, "%sthinking...%s\n", colorDim, colorReset)
	case agent.EventToolCall:
		if t.args == nil {
			t.args = map[string]json.RawMessage{}
		}
		t.args[ev.CallID] = ev.Args
		fmt.Fprintf(t.out, "%s-> %s%s %s\n", colorCyan, ev.Tool, colorReset, ev.Args)
	case agent.EventToolResult:
		color := colorGreen
		if ev.Failed {
			color = colorRed
		}
		if ev.Deferred {
			color = colorYellow
			t.deferred = append(t.deferred, ev)
		}
		fmt.Fprintf(t.out, "%s<- %s%s %s\n", color, ev.Tool, colorReset, preview(ev.Content))
	case agent.EventContent:
		fmt.Fprintf(t.out, "\n%s\n\n", ev.Content)
	case agent.EventError:
		fmt.Fprintf(t.out, "%s%s%s\n", colorRed, ev.Content, colorReset)
	case agent.EventDone:
		if ev.Tokens > 0 {
			fmt.Fprintf(t.out, "%s(%d tokens)%s\n", colorDim, ev.Tokens, colorReset)
		}
	}
}

// confirmDeferred offers every pending write of the last turn and records
// the outcome in the conversation.
func (t *terminal) confirmDeferred(ctx context.Context) {
	pending, calls := t.deferred, t.args
	t.deferred, t.args = nil, nil
	if t.applier == nil {
		return
	}
	for _, ev := range pending {
		var args map[string]any
		if err := json.Unmarshal(calls[ev.CallID], &args); err != nil {
			continue
		}
		req, err := kubernetes.DecodeRequest(args)
		if err != nil {
			continue
		}
		fmt.Fprintf(t.out, "%sApply %s %s?%s [y/N]: ", colorBold, req.Method, req.URL, colorReset)
		answer, ok := <-t.lines
		if !ok || !isYes(answer) {
			fmt.Fprintf(t.out, "%sskipped%s\n", colorDim, colorReset)
			continue
		}
		_, toolCtx := t.orch.Enabled()
		result, err := t.applier.Apply(ctx, toolCtx.Cluster(), req)
		failed := err != nil
		if failed {
			result = tools.ErrorContent(ev.Tool, args, err.Error())
			fmt.Fprintf(t.out, "%s%v%s\n", colorRed, err, colorReset)
		} else {
			fmt.Fprintf(t.out, "%sapplied%s\n", colorGreen, colorReset)
		}
		if _, err := t.orch.RecordToolResult(ev.CallID, result, failed); err != nil {
			fmt.Fprintf(t.out, "%s%v%s\n", colorYellow, err, colorReset)
		}
	}
}

// command handles a slash command and reports whether to quit.
func (t *terminal) command(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	enabled, toolCtx := t.orch.Enabled()

	switch name {
	case "/quit", "/exit":
		return true
	case "/reset":
		t.orch.Reset()
		fmt.Fprintf(t.out, "%sconversation cleared%s\n", colorDim, colorReset)
	case "/tools":
		if arg == "" {
			for _, n := range t.registry.Names() {
				mark := " "
				if slices.Contains(enabled, n) {
					mark = "*"
				}
				fmt.Fprintf(t.out, " %s %s\n", mark, n)
			}
			return false
		}
		names, unknown := splitTools(arg, t.registry)
		if len(unknown) > 0 {
			fmt.Fprintf(t.out, "%sunknown tools: %s%s\n", colorRed, strings.Join(unknown, ", "), colorReset)
			return false
		}
		t.orch.ConfigureTools(names, toolCtx)
		fmt.Fprintf(t.out, "%senabled: %s%s\n", colorDim, strings.Join(names, ", "), colorReset)
	case "/context":
		toolCtx.Namespace = arg
		t.orch.ConfigureTools(enabled, toolCtx)
		fmt.Fprintf(t.out, "%snamespace: %q%s\n", colorDim, arg, colorReset)
	case "/help":
		fmt.Fprintln(t.out, "/reset  /tools [a,b]  /context <namespace>  /quit")
	default:
		fmt.Fprintf(t.out, "%sunknown command %s (try /help)%s\n", colorYellow, name, colorReset)
	}
	return false
}

func splitTools(arg string, registry *tools.Registry) (names, unknown []string) {
	for _, n := range strings.Split(arg, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := registry.Get(n); !ok {
			unknown = append(unknown, n)
			continue
		}
		names = append(names, n)
	}
	return names, unknown
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxResultPreview {
		return s
	}
	return s[:maxResultPreview] + "..."
}
