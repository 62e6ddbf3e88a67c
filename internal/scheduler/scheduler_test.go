package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"hayvn/listing-pipeline/internal/ingest"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeLister struct {
	ids []string
	err error
}

func (f fakeLister) BrokeragesWithLiveConnections(context.Context) ([]string, error) {
	return f.ids, f.err
}

type fakeSyncer struct {
	calls []string
	errs  map[string]error
}

func (f *fakeSyncer) Sync(_ context.Context, req ingest.Request) (*ingest.Report, error) {
	f.calls = append(f.calls, req.BrokerageID)
	if err := f.errs[req.BrokerageID]; err != nil {
		return nil, err
	}
	return &ingest.Report{OK: true}, nil
}

func TestRunOnce_SyncsEveryBrokerage(t *testing.T) {
	syncer := &fakeSyncer{errs: map[string]error{"b": errors.New("db down")}}
	s := New(fakeLister{ids: []string{"a", "b", "c"}}, syncer, "", discardLogger())

	s.RunOnce(context.Background())

	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(syncer.calls, want) {
		t.Errorf("synced %v, want %v (a failure must not stop the cycle)", syncer.calls, want)
	}
}

func TestRunOnce_ListError(t *testing.T) {
	syncer := &fakeSyncer{}
	s := New(fakeLister{err: errors.New("boom")}, syncer, "", discardLogger())

	s.RunOnce(context.Background())

	if len(syncer.calls) != 0 {
		t.Errorf("synced %v after a list error", syncer.calls)
	}
}

func TestRunOnce_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	syncer := &fakeSyncer{}
	s := New(fakeLister{ids: []string{"a", "b"}}, syncer, "", discardLogger())

	s.RunOnce(ctx)

	if len(syncer.calls) != 0 {
		t.Errorf("synced %v with a cancelled context", syncer.calls)
	}
}

func TestStart_DisabledWithoutSpec(t *testing.T) {
	s := New(fakeLister{}, &fakeSyncer{}, "", discardLogger())
	if s.Enabled() {
		t.Fatal("Enabled = true for empty spec")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}

func TestStart_InvalidSpec(t *testing.T) {
	s := New(fakeLister{}, &fakeSyncer{}, "every now and then", discardLogger())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start accepted an invalid cron spec")
	}
}
