package faults

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

// ClassifyContext carries the caller-side hints the classifier is allowed to
// consult. All fields are optional.
type ClassifyContext struct {
	// Context is the dotted operation name, e.g. "thingspeak.getChannel".
	Context string

	// Override forces the result when set to a valid kind. Highest precedence.
	Override Kind

	// HTTPStatus is the upstream status code when the failure came from an
	// HTTP response, 0 otherwise.
	HTTPStatus int

	// MalformedID marks a 404 as caused by a malformed client-supplied
	// identifier rather than a genuinely missing remote resource.
	MalformedID bool
}

// patternRule maps a lowercase substring of the error text to a kind.
// The table is ordered: the first match wins, which keeps classification
// deterministic regardless of map iteration order.
type patternRule struct {
	substr string
	kind   Kind
}

// messagePatterns is consulted after status codes and syscall errors.
var messagePatterns = []patternRule{
	{"rate limit", KindExternalService},
	{"too many requests", KindExternalService},
	{"invalid api key", KindPermission},
	{"unauthorized", KindPermission},
	{"forbidden", KindPermission},
	{"permission denied", KindPermission},
	{"csv parse", KindData},
	{"unexpected end of json", KindData},
	{"invalid character", KindData},
	{"unmarshal", KindData},
	{"serialport", KindData},
	{"no such host", KindNetwork},
	{"connection refused", KindNetwork},
	{"connection reset", KindNetwork},
	{"timeout", KindNetwork},
	{"deadline exceeded", KindNetwork},
	{"no space left", KindStorage},
	{"disk full", KindStorage},
	{"read-only file system", KindStorage},
	{"out of memory", KindSystem},
}

// contextKeywords is the last resort before UNKNOWN: a keyword inside the
// operation context string implies a kind.
var contextKeywords = []patternRule{
	{"visual", KindData},
	{"chart", KindData},
	{"csv", KindData},
	{"cache", KindStorage},
	{"stats", KindStorage},
	{"thingspeak", KindExternalService},
	{"upstream", KindExternalService},
}

// Classify maps a raw failure to a Kind. It is deterministic and
// side-effect-free: identical inputs always produce the same kind, which the
// suppression and statistics keys rely on.
//
// Precedence: explicit override, upstream HTTP status, low-level I/O error,
// message pattern table, context keyword, UNKNOWN.
func Classify(err error, cc ClassifyContext) Kind {
	if cc.Override != "" && cc.Override.Valid() {
		return cc.Override
	}

	if kind, ok := classifyStatus(cc); ok {
		return kind
	}

	if kind, ok := classifySyscall(err); ok {
		return kind
	}

	if err != nil {
		msg := strings.ToLower(err.Error())
		for _, rule := range messagePatterns {
			if strings.Contains(msg, rule.substr) {
				return rule.kind
			}
		}
	}

	lctx := strings.ToLower(cc.Context)
	for _, rule := range contextKeywords {
		if strings.Contains(lctx, rule.substr) {
			return rule.kind
		}
	}

	return KindUnknown
}

func classifyStatus(cc ClassifyContext) (Kind, bool) {
	switch {
	case cc.HTTPStatus == 0:
		return KindUnknown, false
	case cc.HTTPStatus == 401 || cc.HTTPStatus == 403:
		return KindPermission, true
	case cc.HTTPStatus == 404:
		// A missing remote resource is the upstream's problem unless the
		// caller handed us a malformed identifier in the first place.
		if cc.MalformedID {
			return KindValidation, true
		}
		return KindExternalService, true
	case cc.HTTPStatus == 429:
		return KindExternalService, true
	case cc.HTTPStatus >= 500:
		return KindExternalService, true
	case cc.HTTPStatus >= 400:
		return KindValidation, true
	default:
		return KindUnknown, false
	}
}

func classifySyscall(err error) (Kind, bool) {
	if err == nil {
		return KindUnknown, false
	}

	// Timeouts before anything else: net.Error timeouts and context
	// deadline expiry are both NETWORK.
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindNetwork, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNetwork, true
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.ETIMEDOUT):
		return KindNetwork, true
	case errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EROFS),
		errors.Is(err, os.ErrPermission):
		return KindStorage, true
	case errors.Is(err, syscall.ENOMEM):
		return KindSystem, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork, true
	}

	return KindUnknown, false
}
