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
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/osagberg/kube-assist-agent/internal/ai"
)

// ErrTurnInProgress is returned when a turn is started while another one on
// the same conversation has not finished.
var ErrTurnInProgress = errors.New("a request is already in progress for this conversation")

// ErrorClass groups model invocation failures by what the user can do
// about them.
type ErrorClass string

const (
	ClassCancelled ErrorClass = "cancelled"
	ClassNetwork   ErrorClass = "network"
	ClassTimeout   ErrorClass = "timeout"
	ClassAuth      ErrorClass = "auth"
	ClassForbidden ErrorClass = "forbidden"
	ClassNotFound  ErrorClass = "not_found"
	ClassRateLimit ErrorClass = "rate_limit"
	ClassServer    ErrorClass = "server"
	ClassParse     ErrorClass = "parse"
	ClassUnknown   ErrorClass = "unknown"
)

// Classified is a model invocation failure with its user-facing sentence.
type Classified struct {
	Class   ErrorClass
	Message string
}

var (
	networkError        = Classified{ClassNetwork, "Network connection error. Please check your internet connection and try again."}
	timeoutError        = Classified{ClassTimeout, "Request timed out. The operation took too long to complete."}
	authError           = Classified{ClassAuth, "Authentication error. Please check your credentials."}
	forbiddenError      = Classified{ClassForbidden, "Access denied. You may not have permission for this operation."}
	notFoundError       = Classified{ClassNotFound, "The requested resource was not found."}
	rateLimitError      = Classified{ClassRateLimit, "Too many requests. Please wait a moment and try again."}
	serverError         = Classified{ClassServer, "Server error. Please try again later."}
	badGatewayError     = Classified{ClassServer, "Gateway error. The server is temporarily unavailable."}
	unavailableError    = Classified{ClassServer, "Service temporarily unavailable. Please try again later."}
	gatewayTimeoutError = Classified{ClassServer, "Gateway timeout. The request took too long to process."}
	parseError          = Classified{ClassParse, "Data format error. The response was not in the expected format."}
	cancelledError      = Classified{ClassCancelled, "Operation was cancelled."}
)

const unexpectedError = "An unexpected error occurred. Please try again."

type errorPattern struct {
	re     *regexp.Regexp
	result Classified
}

// errorPatterns are matched in order against the lowercased error text.
var errorPatterns = []errorPattern{
	{regexp.MustCompile(`network.*error|fetch.*failed|connection.*refused|no such host`), networkError},
	{regexp.MustCompile(`timeout|timed out|deadline exceeded`), timeoutError},
	{regexp.MustCompile(`unauthorized|401`), authError},
	{regexp.MustCompile(`forbidden|403`), forbiddenError},
	{regexp.MustCompile(`not found|404`), notFoundError},
	{regexp.MustCompile(`rate limit|429`), rateLimitError},
	{regexp.MustCompile(`internal server error|500`), serverError},
	{regexp.MustCompile(`bad gateway|502`), badGatewayError},
	{regexp.MustCompile(`service unavailable|503`), unavailableError},
	{regexp.MustCompile(`gateway timeout|504`), gatewayTimeoutError},
	{regexp.MustCompile(`parse|json`), parseError},
	{regexp.MustCompile(`abort|cancel`), cancelledError},
}

var statusErrors = map[int]Classified{
	http.StatusUnauthorized:        authError,
	http.StatusForbidden:           forbiddenError,
	http.StatusNotFound:            notFoundError,
	http.StatusTooManyRequests:     rateLimitError,
	http.StatusInternalServerError: serverError,
	http.StatusBadGateway:          badGatewayError,
	http.StatusServiceUnavailable:  unavailableError,
	http.StatusGatewayTimeout:      gatewayTimeoutError,
}

// Classify maps a model invocation error to a class and a fixed sentence.
// Typed causes are checked before the message patterns.
func Classify(err error) Classified {
	if err == nil {
		return Classified{Class: ClassUnknown, Message: unexpectedError}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return cancelledError
	case errors.Is(err, context.DeadlineExceeded):
		return timeoutError
	case errors.Is(err, ai.ErrNotConfigured):
		return authError
	}
	if c, ok := statusErrors[ai.StatusCode(err)]; ok {
		return c
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return timeoutError
		}
		return networkError
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return parseError
	}

	text := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if p.re.MatchString(text) {
			return p.result
		}
	}

	msg := strings.TrimSpace(strings.TrimPrefix(err.Error(), "Error:"))
	if msg == "" {
		msg = unexpectedError
	}
	return Classified{Class: ClassUnknown, Message: msg}
}

// errorReply renders the terminal content for a classified failure.
func errorReply(c Classified) string {
	return errorReplyPrefix + c.Message
}
