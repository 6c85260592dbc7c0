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

package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxFailureMessageLen bounds the message extracted from a non-JSON body.
const maxFailureMessageLen = 500

// DetectFailure reports whether content describes a failed operation even
// though the tool returned normally. A JSON object counts as failed when its
// "error" field is true; any other body counts as failed when it mentions
// "error" or "failed". The returned message is suitable for a failure digest.
func DetectFailure(content string) (bool, string) {
	var body map[string]any
	if err := json.Unmarshal([]byte(content), &body); err == nil {
		if isErr, _ := body["error"].(bool); !isErr {
			return false, ""
		}
		if msg, ok := body["message"].(string); ok && msg != "" {
			return true, msg
		}
		return true, "Unknown error"
	}
	if json.Valid([]byte(content)) {
		// Arrays and scalars carry no error flag.
		return false, ""
	}

	lower := strings.ToLower(content)
	if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
		msg := content
		if len(msg) > maxFailureMessageLen {
			msg = msg[:maxFailureMessageLen] + "..."
		}
		return true, msg
	}
	return false, ""
}

// errorBody is the recorded content of a tool call that returned an error.
type errorBody struct {
	Error               bool           `json:"error"`
	Message             string         `json:"message"`
	ToolName            string         `json:"toolName"`
	Request             map[string]any `json:"request"`
	UserFriendlyMessage string         `json:"userFriendlyMessage"`
}

// ErrorResult converts an execution error into the recorded result: an
// error:true JSON body that is added to history and followed up.
func ErrorResult(call Call, err error) Result {
	return Result{
		Content:               ErrorContent(call.Name, call.Arguments, err.Error()),
		ShouldAddToHistory:    true,
		ShouldProcessFollowUp: true,
	}
}

// ErrorContent renders the error:true JSON body for a failed call.
func ErrorContent(toolName string, args map[string]any, message string) string {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(errorBody{
		Error:               true,
		Message:             message,
		ToolName:            toolName,
		Request:             args,
		UserFriendlyMessage: fmt.Sprintf("Failed to execute %s: %s", toolName, message),
	})
	if err != nil {
		// Arguments that cannot be marshalled are dropped from the body.
		data, _ = json.Marshal(errorBody{
			Error:               true,
			Message:             message,
			ToolName:            toolName,
			Request:             map[string]any{},
			UserFriendlyMessage: fmt.Sprintf("Failed to execute %s: %s", toolName, message),
		})
	}
	return string(data)
}
