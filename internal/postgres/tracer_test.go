package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linnemanlabs/go-core/log"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/medtriage/internal/corpus/pgcorpus.Load", "Load"},
		{"method", "github.com/linnemanlabs/medtriage/internal/corpus/pgcorpus.(*Source).Load", "(*Source).Load"},
		{"already short", "(*Source).Load", "Load"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := shortenFuncName(tt.in)
			if got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOperationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 59", "SELECT"},
		{"  insert 0 1", "INSERT"},
		{"", "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := operationName(tt.in); got != tt.want {
			t.Errorf("operationName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSetQueryObserver(t *testing.T) { //nolint:paralleltest // mutates the global observer
	defer SetQueryObserver(nil)

	called := false
	obs := QueryObserverFunc(func(_ context.Context, _, _, _ string, _ time.Duration) {
		called = true
	})

	SetQueryObserver(obs)
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "SELECT", "Load", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	if got := getQueryObserver(); got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}

func TestLoggingTracer_ObservesQuery(t *testing.T) { //nolint:paralleltest // mutates the global observer
	defer SetQueryObserver(nil)

	var gotOp, gotOutcome string
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, op, _, outcome string, _ time.Duration) {
		gotOp = op
		gotOutcome = outcome
	}))

	tr := wrapQueryTracer(nil)
	ctx := log.WithContext(context.Background(), log.Nop())
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	if gotOp != "SELECT" {
		t.Errorf("operation = %q, want SELECT", gotOp)
	}
	if gotOutcome != "ok" {
		t.Errorf("outcome = %q, want ok", gotOutcome)
	}
}
