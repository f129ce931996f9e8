package merge

import (
	"sync"
	"testing"
	"time"
)

func TestWindowCommitsOnGap(t *testing.T) {
	var mu sync.Mutex
	var got *Commit

	w := New(Config{GapMs: 30, MaxMs: 2000}, func(c Commit) {
		mu.Lock()
		defer mu.Unlock()
		cp := c
		got = &cp
	})

	w.Append(1000, "帮我关灯", "EMO_NEUTRAL", "Speech")
	w.Append(1010, "谢谢", "EMO_NEUTRAL", "Speech")

	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("expected a commit after the gap elapsed")
	}
	if got.Text != "帮我关灯 谢谢" {
		t.Errorf("Text = %q, want merged text in order", got.Text)
	}
	if got.Count != 2 {
		t.Errorf("Count = %d, want 2", got.Count)
	}
	if got.Reason != ReasonGap {
		t.Errorf("Reason = %q, want %q", got.Reason, ReasonGap)
	}
}

func TestWindowCommitsOnMaxWindow(t *testing.T) {
	var mu sync.Mutex
	var commits []Commit

	w := New(Config{GapMs: 5000, MaxMs: 50}, func(c Commit) {
		mu.Lock()
		defer mu.Unlock()
		commits = append(commits, c)
	})

	w.Append(1000, "a", "", "Speech")
	w.Append(1060, "b", "", "Speech") // started(1000) .. now(1060) >= max(50) -> immediate commit

	mu.Lock()
	defer mu.Unlock()
	if len(commits) != 1 {
		t.Fatalf("expected exactly one immediate commit, got %d", len(commits))
	}
	if commits[0].Reason != ReasonMaxWindow {
		t.Errorf("Reason = %q, want %q", commits[0].Reason, ReasonMaxWindow)
	}
}

func TestWindowStaleTimerDoesNotDoubleCommit(t *testing.T) {
	var mu sync.Mutex
	commitCount := 0

	w := New(Config{GapMs: 20, MaxMs: 2000}, func(c Commit) {
		mu.Lock()
		defer mu.Unlock()
		commitCount++
	})

	w.Append(1000, "first", "", "Speech")
	// Re-arm before the first timer fires; the stale timer callback must
	// recognize the version bump and no-op.
	time.Sleep(5 * time.Millisecond)
	w.Append(1005, "second", "", "Speech")

	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if commitCount != 1 {
		t.Errorf("commitCount = %d, want exactly 1 (no stale double-commit)", commitCount)
	}
}

func TestWindowFlushForcesCommitBelowGap(t *testing.T) {
	var got *Commit
	w := New(Config{GapMs: 5000, MaxMs: 5000}, func(c Commit) {
		cp := c
		got = &cp
	})

	w.Append(1000, "hello", "", "Speech")
	w.Flush()

	if got == nil {
		t.Fatal("expected Flush to force a commit")
	}
	if got.Reason != ReasonFlush {
		t.Errorf("Reason = %q, want %q", got.Reason, ReasonFlush)
	}
	if !w.Empty() {
		t.Error("window should be empty after commit")
	}
}

func TestWindowStealBackInsertsAtFront(t *testing.T) {
	var got *Commit
	w := New(Config{GapMs: 20, MaxMs: 5000}, func(c Commit) {
		cp := c
		got = &cp
	})

	w.StealBack("讲个冷笑话")
	w.Append(1000, "换成讲个悲伤的故事", "", "Speech")
	w.Flush()

	if got == nil {
		t.Fatal("expected a commit")
	}
	want := "讲个冷笑话 换成讲个悲伤的故事"
	if got.Text != want {
		t.Errorf("Text = %q, want %q", got.Text, want)
	}
}
