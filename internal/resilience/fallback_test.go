package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/quill/pkg/provider/refine"
	refinemock "github.com/MrWong99/quill/pkg/provider/refine/mock"
)

func newStringGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	t.Parallel()

	fg := newStringGroup(3)
	var called []string
	err := fg.Execute(func(v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(called, []string{"primary"}) {
		t.Fatalf("called = %v, want [primary]", called)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	t.Parallel()

	fg := newStringGroup(3)
	got, name, err := ExecuteNamed(context.Background(), fg, func(v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "from-" + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-secondary" || name != "secondary" {
		t.Fatalf("got %q from %q, want from-secondary from secondary", got, name)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()

	fg := newStringGroup(3)
	err := fg.Execute(func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want it to wrap the last provider error", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	fg := newStringGroup(2)
	for i := 0; i < 2; i++ {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if s := fg.States()["primary"]; s != StateOpen {
		t.Fatalf("primary state = %v, want open", s)
	}

	var called []string
	_ = fg.Execute(func(v string) error {
		called = append(called, v)
		return nil
	})
	if !slices.Equal(called, []string{"secondary"}) {
		t.Fatalf("called = %v, want [secondary]", called)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(fg, func(v int) (int, error) {
		if v == 10 {
			return 0, errTest
		}
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 40 {
		t.Fatalf("result = %d, want 40", result)
	}
}

func TestExecuteNamed_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	fg := newStringGroup(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, _, err := ExecuteNamed(ctx, fg, func(string) (string, error) {
		calls++
		return "x", nil
	})
	if calls != 0 {
		t.Errorf("calls = %d, want 0 on cancelled context", calls)
	}
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want ErrAllFailed wrapping context.Canceled", err)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()

	fg := newStringGroup(1)
	fg.AddFallback("tertiary", "tertiary")
	if got := fg.Names(); !slices.Equal(got, []string{"primary", "secondary", "tertiary"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestRefineFallback(t *testing.T) {
	t.Parallel()

	primary := &refinemock.Provider{Err: errors.New("hf down")}
	secondary := &refinemock.Provider{Result: "Hello, world."}

	f := NewRefineFallback(primary, "huggingface", FallbackConfig{})
	f.AddFallback("openai", secondary)

	got, name, err := f.RefineNamed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("RefineNamed: %v", err)
	}
	if got != "Hello, world." || name != "openai" {
		t.Errorf("got %q from %q", got, name)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}

	var _ refine.Provider = f
	if _, err := NewRefineFallback(primary, "huggingface", FallbackConfig{}).Refine(context.Background(), "x"); !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}
