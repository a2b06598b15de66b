package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLatchRunsOnce(t *testing.T) {
	latch := NewLocalLatch()

	calls := 0
	run := func() error {
		calls++
		return nil
	}

	if err := latch.Once(context.Background(), "fire:post_1", time.Minute, run); err != nil {
		t.Fatalf("первый захват: %v", err)
	}
	if err := latch.Once(context.Background(), "fire:post_1", time.Minute, run); err != nil {
		t.Fatalf("повторный захват: %v", err)
	}
	if calls != 1 {
		t.Fatalf("fn должна выполниться один раз, выполнилась %d", calls)
	}
}

func TestLocalLatchReleasesOnError(t *testing.T) {
	latch := NewLocalLatch()

	calls := 0
	failing := func() error {
		calls++
		return errors.New("публикация не удалась")
	}

	if err := latch.Once(context.Background(), "fire:post_2", time.Minute, failing); err == nil {
		t.Fatalf("ожидалась ошибка fn")
	}
	if err := latch.Once(context.Background(), "fire:post_2", time.Minute, failing); err == nil {
		t.Fatalf("ожидалась ошибка fn на повторе")
	}
	if calls != 2 {
		t.Fatalf("после ошибки ключ должен освобождаться, вызовов %d", calls)
	}
}

func TestLocalLatchSeparateKeys(t *testing.T) {
	latch := NewLocalLatch()

	calls := 0
	run := func() error {
		calls++
		return nil
	}

	_ = latch.Once(context.Background(), "fire:post_3", time.Minute, run)
	_ = latch.Once(context.Background(), "fire:post_4", time.Minute, run)
	if calls != 2 {
		t.Fatalf("разные ключи независимы, вызовов %d", calls)
	}
}
