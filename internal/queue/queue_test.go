package queue

import (
	"testing"
	"time"

	"github.com/kpndevrootentri/ShipEntri/internal/fault"
)

func TestRetryDelayBacksOffExponentially(t *testing.T) {
	err := fault.New(fault.KindBuildFailed, "image build failed")

	delay, retry := retryDelay(1, err)
	if !retry || delay != 2*time.Second {
		t.Fatalf("attempt 1: delay=%s retry=%v", delay, retry)
	}
	delay, retry = retryDelay(2, err)
	if !retry || delay != 4*time.Second {
		t.Fatalf("attempt 2: delay=%s retry=%v", delay, retry)
	}
	if _, retry = retryDelay(3, err); retry {
		t.Fatal("attempt 3 must be the last")
	}
}

func TestRetryDelayRespectsErrorKind(t *testing.T) {
	if _, retry := retryDelay(1, fault.New(fault.KindValidation, "bad input")); retry {
		t.Fatal("validation failures must not be retried")
	}
	if _, retry := retryDelay(1, fault.New(fault.KindNotFound, "gone")); retry {
		t.Fatal("not-found failures must not be retried")
	}
	if _, retry := retryDelay(1, fault.New(fault.KindCloneFailed, "fetch failed")); !retry {
		t.Fatal("clone failures should be retried")
	}
}

func TestIsUnavailable(t *testing.T) {
	if !IsUnavailable(fault.New(fault.KindQueueUnavailable, "redis down")) {
		t.Fatal("expected queue-unavailable to be detected")
	}
	if IsUnavailable(fault.New(fault.KindInternal, "boom")) {
		t.Fatal("internal errors are not queue unavailability")
	}
}
