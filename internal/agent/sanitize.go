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
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// RedactionPlaceholder replaces credentials found in tool output.
const RedactionPlaceholder = "[REDACTED]"

// credentialPatterns match material that must never be sent to a model.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-_.=]{16,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)(mongodb|postgres|postgresql|mysql|redis|amqp)://[^\s:@/"]+:[^\s@/"]+@`),
}

var htmlTagPattern = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9]*)\b[^>]*>`)

// htmlTagThreshold is the number of tags above which text is treated as HTML.
const htmlTagThreshold = 3

// Sanitize prepares tool output for a model. JSON is re-encoded compactly,
// HTML is reduced to its text, and credentials are redacted. It is pure and
// safe to call repeatedly.
func Sanitize(content string) string {
	if content == "" {
		return ""
	}
	trimmed := strings.TrimSpace(content)
	switch {
	case isJSONDocument(trimmed):
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(trimmed)); err == nil {
			content = buf.String()
		}
	case isHTML(trimmed):
		content = htmlText(trimmed)
	}
	return redact(content)
}

func isJSONDocument(s string) bool {
	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}

func isHTML(s string) bool {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html") {
		return true
	}
	return len(htmlTagPattern.FindAllStringIndex(s, htmlTagThreshold)) >= htmlTagThreshold
}

// htmlText returns the text nodes of an HTML document, skipping script and
// style elements.
func htmlText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return s
			}
			return strings.TrimSpace(sb.String())
		case html.StartTagToken:
			if name, _ := z.TagName(); isInvisible(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isInvisible(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

func isInvisible(tag []byte) bool {
	switch string(tag) {
	case "script", "style", "noscript", "head":
		return true
	}
	return false
}

func redact(s string) string {
	for _, p := range credentialPatterns {
		s = p.ReplaceAllString(s, RedactionPlaceholder)
	}
	return s
}
