package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

// TestClassify_OverrideWins verifies an explicit override beats everything
func TestClassify_OverrideWins(t *testing.T) {
	err := errors.New("connection refused") // would classify NETWORK
	kind := Classify(err, ClassifyContext{
		Context:    "thingspeak.getFeed",
		Override:   KindStorage,
		HTTPStatus: 500, // would classify EXTERNAL_SERVICE
	})
	if kind != KindStorage {
		t.Errorf("Expected override STORAGE, got %s", kind)
	}

	// Invalid overrides are ignored
	kind = Classify(err, ClassifyContext{Override: "BOGUS"})
	if kind != KindNetwork {
		t.Errorf("Expected NETWORK with invalid override, got %s", kind)
	}

	t.Log("✓ Override has highest precedence")
}

// TestClassify_HTTPStatus verifies status code mapping
func TestClassify_HTTPStatus(t *testing.T) {
	cases := []struct {
		status      int
		malformedID bool
		want        Kind
	}{
		{401, false, KindPermission},
		{403, false, KindPermission},
		{404, false, KindExternalService},
		{404, true, KindValidation},
		{400, false, KindValidation},
		{422, false, KindValidation},
		{429, false, KindExternalService},
		{500, false, KindExternalService},
		{502, false, KindExternalService},
		{503, false, KindExternalService},
	}

	for _, tc := range cases {
		got := Classify(errors.New("upstream failed"), ClassifyContext{
			HTTPStatus:  tc.status,
			MalformedID: tc.malformedID,
		})
		if got != tc.want {
			t.Errorf("status %d (malformed=%v): got %s, want %s", tc.status, tc.malformedID, got, tc.want)
		}
	}

	t.Log("✓ HTTP status mapping is correct")
}

// TestClassify_MissingChannel verifies a 404 for a well-formed channel ID is
// the upstream's problem, not the caller's
func TestClassify_MissingChannel(t *testing.T) {
	kind := Classify(errors.New("channel not found"), ClassifyContext{
		Context:    "thingspeak.getChannel",
		HTTPStatus: 404,
	})
	if kind != KindExternalService {
		t.Errorf("Expected EXTERNAL_SERVICE for missing channel, got %s", kind)
	}

	t.Log("✓ Missing remote resource classifies as EXTERNAL_SERVICE")
}

// TestClassify_SyscallErrors verifies low-level I/O error mapping
func TestClassify_SyscallErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindNetwork},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindNetwork},
		{"refused", syscall.ECONNREFUSED, KindNetwork},
		{"reset", syscall.ECONNRESET, KindNetwork},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example.com"}, KindNetwork},
		{"disk full", syscall.ENOSPC, KindStorage},
		{"read-only fs", syscall.EROFS, KindStorage},
		{"oom", syscall.ENOMEM, KindSystem},
	}

	for _, tc := range cases {
		if got := Classify(tc.err, ClassifyContext{}); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}

	t.Log("✓ Syscall-level errors map to the right kinds")
}

// TestClassify_MessagePatterns verifies the ordered message pattern table
func TestClassify_MessagePatterns(t *testing.T) {
	cases := []struct {
		msg  string
		want Kind
	}{
		{"rate limit reached for key", KindExternalService},
		{"too many requests from this IP", KindExternalService},
		{"invalid api key provided", KindPermission},
		{"request unauthorized", KindPermission},
		{"csv parse error at line 3", KindData},
		{"unexpected end of JSON input", KindData},
		{"no space left on device", KindStorage},
		{"out of memory", KindSystem},
	}

	for _, tc := range cases {
		if got := Classify(errors.New(tc.msg), ClassifyContext{}); got != tc.want {
			t.Errorf("%q: got %s, want %s", tc.msg, got, tc.want)
		}
	}

	t.Log("✓ Message patterns classify correctly")
}

// TestClassify_ContextKeywords verifies the last-resort context fallback
func TestClassify_ContextKeywords(t *testing.T) {
	opaque := errors.New("something went wrong")

	cases := []struct {
		context string
		want    Kind
	}{
		{"visualization.render", KindData},
		{"chart.build", KindData},
		{"cache.load", KindStorage},
		{"thingspeak.getFeed", KindExternalService},
		{"", KindUnknown},
		{"scheduler.tick", KindUnknown},
	}

	for _, tc := range cases {
		if got := Classify(opaque, ClassifyContext{Context: tc.context}); got != tc.want {
			t.Errorf("context %q: got %s, want %s", tc.context, got, tc.want)
		}
	}

	t.Log("✓ Context keywords are the last resort before UNKNOWN")
}

// TestClassify_Deterministic verifies identical inputs always classify alike
func TestClassify_Deterministic(t *testing.T) {
	err := errors.New("timeout waiting for rate limit token")
	cc := ClassifyContext{Context: "thingspeak.getFeed"}

	first := Classify(err, cc)
	for i := 0; i < 1000; i++ {
		if got := Classify(err, cc); got != first {
			t.Fatalf("classification changed between runs: %s then %s", first, got)
		}
	}

	t.Log("✓ Classification is deterministic")
}

// TestKindDefaults verifies severity and status defaults per kind
func TestKindDefaults(t *testing.T) {
	if KindNetwork.DefaultSeverity() != SeverityMedium {
		t.Errorf("NETWORK severity: got %s", KindNetwork.DefaultSeverity())
	}
	if KindPermission.DefaultSeverity() != SeverityHigh {
		t.Errorf("PERMISSION severity: got %s", KindPermission.DefaultSeverity())
	}
	if KindValidation.DefaultHTTPStatus() != 400 {
		t.Errorf("VALIDATION status: got %d", KindValidation.DefaultHTTPStatus())
	}

	// Every kind has recovery strategies defined or explicitly none
	for _, k := range Kinds() {
		if !k.Valid() {
			t.Errorf("Kinds() returned invalid kind %q", k)
		}
	}
	if len(KindValidation.RecoveryStrategies()) != 0 {
		t.Error("VALIDATION must have no recovery strategies")
	}
	if len(KindNetwork.RecoveryStrategies()) == 0 {
		t.Error("NETWORK must have recovery strategies")
	}

	t.Log("✓ Kind defaults are consistent")
}
