package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/packmule/packmule/pkg/logger"
)

func testLogger() logger.Logger {
	return logger.CreateLoggerWithOutput("error", nil)
}

func TestSafeGroupRunsAllGoroutines(t *testing.T) {
	g, _ := NewSafeGroup(context.Background(), testLogger())

	var ran int32
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if ran != 8 {
		t.Fatalf("expected 8 goroutines to run, got %d", ran)
	}
}

func TestSafeGroupPropagatesFirstError(t *testing.T) {
	g, _ := NewSafeGroup(context.Background(), testLogger())

	want := errors.New("packaging failed")
	g.Go(func() error { return nil })
	g.Go(func() error { return want })

	if err := g.Wait(); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestSafeGroupRecoversPanic(t *testing.T) {
	g, _ := NewSafeGroup(context.Background(), testLogger())

	g.Go(func() error {
		panic("worker exploded")
	})

	err := g.Wait()
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
	if !strings.Contains(err.Error(), "worker exploded") {
		t.Fatalf("panic value lost: %v", err)
	}
}

func TestSafeGroupCancelsContextOnError(t *testing.T) {
	g, ctx := NewSafeGroup(context.Background(), testLogger())

	g.Go(func() error { return errors.New("boom") })
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := g.Wait(); err == nil {
		t.Fatal("expected an error")
	}
}
