package safego

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not finish within timeout")
	}
}

func TestGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})
	ran := false

	Go("test.run", func() {
		ran = true
		close(done)
	})

	waitFor(t, done)
	if !ran {
		t.Error("function did not run")
	}
}

func TestGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})

	// The panic must be recovered or the test binary would crash
	Go("test.panic", func() {
		defer close(done)
		panic("intentional panic in test")
	})

	waitFor(t, done)
}

func TestGo_RecoversNilErrorPanic(t *testing.T) {
	done := make(chan struct{})

	Go("test.nil-map", func() {
		defer close(done)
		var m map[string]int
		m["boom"] = 1
	})

	waitFor(t, done)
}
