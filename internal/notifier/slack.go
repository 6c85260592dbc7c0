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

package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SlackNotifier sends notifications formatted as Slack Block Kit messages.
type SlackNotifier struct {
	poster
}

// NewSlackNotifier creates a Slack notifier that sends Block Kit payloads.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{poster: newPoster(webhookURL, false)}
}

func (s *SlackNotifier) Name() string { return TypeSlack }

func (s *SlackNotifier) Send(ctx context.Context, notification Notification) error {
	return s.post(ctx, s.Name(), s.buildPayload(notification))
}

func (s *SlackNotifier) buildPayload(n Notification) map[string]any {
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": "\U0001f7e1 KubeAssist approval required",
			},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Tools*\n`%s`", strings.Join(n.Tools, "`, `"))},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Scope*\n%s", scope(n))},
			},
		},
	}
	if n.Message != "" {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": "> " + n.Message},
		})
	}
	blocks = append(blocks, map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("Session %s, requested at %s", n.SessionID, n.Timestamp.UTC().Format(time.RFC3339))},
		},
	})
	return map[string]any{"text": n.Summary(), "blocks": blocks}
}

func scope(n Notification) string {
	cluster := n.Cluster
	if cluster == "" {
		cluster = "default cluster"
	}
	if n.Namespace == "" {
		return cluster
	}
	return cluster + " / " + n.Namespace
}
