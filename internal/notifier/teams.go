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
	"strings"
	"time"
)

// TeamsNotifier sends notifications formatted as Microsoft Teams Adaptive Cards.
type TeamsNotifier struct {
	poster
}

// NewTeamsNotifier creates a Teams notifier that sends Adaptive Card payloads.
func NewTeamsNotifier(webhookURL string) *TeamsNotifier {
	return &TeamsNotifier{poster: newPoster(webhookURL, false)}
}

func (t *TeamsNotifier) Name() string { return TypeTeams }

func (t *TeamsNotifier) Send(ctx context.Context, notification Notification) error {
	return t.post(ctx, t.Name(), t.buildPayload(notification))
}

func (t *TeamsNotifier) buildPayload(n Notification) map[string]any {
	body := []map[string]any{
		{
			"type":   "TextBlock",
			"size":   "Large",
			"weight": "Bolder",
			"text":   "KubeAssist approval required",
		},
		{
			"type": "FactSet",
			"facts": []map[string]any{
				{"title": "Tools", "value": strings.Join(n.Tools, ", ")},
				{"title": "Scope", "value": scope(n)},
				{"title": "Session", "value": n.SessionID},
				{"title": "Requested", "value": n.Timestamp.UTC().Format(time.RFC3339)},
			},
		},
	}
	if n.Message != "" {
		body = append(body, map[string]any{"type": "TextBlock", "text": n.Message, "wrap": true, "isSubtle": true})
	}
	return map[string]any{
		"type": "message",
		"attachments": []map[string]any{
			{
				"contentType": "application/vnd.microsoft.card.adaptive",
				"content": map[string]any{
					"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
					"type":    "AdaptiveCard",
					"version": "1.4",
					"body":    body,
				},
			},
		},
	}
}
