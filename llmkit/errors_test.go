package llmkit

import "testing"

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{413, false},
		{422, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
		{418, true}, // unknown statuses default retryable
	}

	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "msg", "test", nil)
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("status %d: IsRetryable = %v, want %v", tt.status, got, tt.retryable)
		}
	}
}

func TestIsRetryableNil(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil error must not be retryable")
	}
}

func TestBackendErrorMessage(t *testing.T) {
	err := ErrorFromStatusCode(429, "too many requests", "openai", nil)
	rl, ok := err.(*RateLimitError)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T", err)
	}
	if rl.Provider != "openai" || rl.StatusCode != 429 {
		t.Errorf("unexpected fields: %+v", rl)
	}
	if !IsRateLimited(err) {
		t.Error("IsRateLimited should recognize RateLimitError")
	}
}
