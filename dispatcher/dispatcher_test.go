package dispatcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cryptocsv/config"
	"cryptocsv/internal/errkind"
	"cryptocsv/models"
	"cryptocsv/writer"
)

// stubAdapter answers each Fetch from script. After limit calls it blocks
// until ctx is cancelled.
type stubAdapter struct {
	mu      sync.Mutex
	calls   int
	limit   int
	script  func(call int) ([]models.Row, error)
	reached chan struct{}
}

func newStub(limit int, script func(call int) ([]models.Row, error)) *stubAdapter {
	return &stubAdapter{limit: limit, script: script, reached: make(chan struct{})}
}

func (s *stubAdapter) Exchange() string { return models.ExchangeHuobi }
func (s *stubAdapter) DataType() string { return models.DataTypeTicker }

func (s *stubAdapter) Fetch(ctx context.Context) ([]models.Row, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if s.limit > 0 && call > s.limit {
		if call == s.limit+1 {
			close(s.reached)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.script(call)
}

func testOptions() Options {
	return Options{
		RequestsPerSecond: 1000,
		Burst:             1,
		Retry:             config.RetryConfig{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiplier: 2},
	}
}

func testStream(symbol string) models.Stream {
	return models.Stream{
		Exchange: models.ExchangeHuobi,
		DataType: models.DataTypeTicker,
		Symbol:   symbol,
		Interval: time.Millisecond,
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestEndToEndRowsAppendedInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huobi", "ticker", "btcusdt.csv")
	sink := writer.NewCSVSink(path)
	defer sink.Close()

	stub := newStub(1, func(int) ([]models.Row, error) {
		return []models.Row{
			{models.F("price", "100"), models.F("ts", "1")},
			{models.F("price", "101"), models.F("ts", "2")},
		}, nil
	})

	d, err := New([]Worker{{Stream: testStream("btcusdt"), Adapter: stub, Sink: sink}}, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	waitFor(t, stub.reached)
	cancel()
	d.Wait()

	lines := readLines(t, path)
	want := []string{"price,ts", "100,1", "101,2"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
	if st := d.Stats()["huobi_ticker_btcusdt"]; st.Rows != 2 || st.Fetches != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestEndToEndSuccessiveFetches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huobi", "ticker", "btcusdt.csv")
	sink := writer.NewCSVSink(path)
	defer sink.Close()

	stub := newStub(2, func(call int) ([]models.Row, error) {
		if call == 1 {
			return []models.Row{{models.F("price", "100"), models.F("ts", "1")}}, nil
		}
		return []models.Row{{models.F("price", "101"), models.F("ts", "2")}}, nil
	})

	d, err := New([]Worker{{Stream: testStream("btcusdt"), Adapter: stub, Sink: sink}}, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	waitFor(t, stub.reached)
	cancel()
	d.Wait()

	lines := readLines(t, path)
	want := []string{"price,ts", "100,1", "101,2"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
	if st := d.Stats()["huobi_ticker_btcusdt"]; st.Rows != 2 || st.Fetches != 3 || st.Errors != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestFatalFetchErrorStopsWorker(t *testing.T) {
	sink := writer.NewCSVSink(filepath.Join(t.TempDir(), "out.csv"))
	defer sink.Close()

	stub := newStub(0, func(int) ([]models.Row, error) {
		return nil, errkind.Wrap(errkind.ErrIO, errors.New("disk full"))
	})
	d, err := New([]Worker{{Stream: testStream("btcusdt"), Adapter: stub, Sink: sink}}, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.Start(context.Background())
	waitFor(t, d.Done())

	st := d.Stats()["huobi_ticker_btcusdt"]
	if !st.Exited || st.Reason != "io" || st.Fetches != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestTransientFailureKeepsWorkerRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	sink := writer.NewCSVSink(path)
	defer sink.Close()

	stub := newStub(4, func(call int) ([]models.Row, error) {
		if call == 2 {
			return nil, errkind.Wrap(errkind.ErrTransient, errors.New("connection reset"))
		}
		return []models.Row{{models.F("call", string(rune('0'+call)))}}, nil
	})

	d, err := New([]Worker{{Stream: testStream("btcusdt"), Adapter: stub, Sink: sink}}, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	waitFor(t, stub.reached)
	cancel()
	d.Wait()

	lines := readLines(t, path)
	want := []string{"call", "1", "3", "4"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, lines)
	}
	st := d.Stats()["huobi_ticker_btcusdt"]
	if st.Errors != 1 || st.Reason != "stopped" {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestRateLimitIsRetried(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	sink := writer.NewCSVSink(path)
	defer sink.Close()

	stub := newStub(3, func(call int) ([]models.Row, error) {
		if call < 3 {
			return nil, errkind.Wrap(errkind.ErrRateLimit, errors.New("429"))
		}
		return []models.Row{{models.F("ok", "1")}}, nil
	})

	d, err := New([]Worker{{Stream: testStream("btcusdt"), Adapter: stub, Sink: sink}}, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	waitFor(t, stub.reached)
	cancel()
	d.Wait()

	if lines := readLines(t, path); len(lines) != 2 {
		t.Fatalf("expected header and one row, got %v", lines)
	}
}

func TestAuthErrorStopsOnlyThatWorker(t *testing.T) {
	dir := t.TempDir()
	badSink := writer.NewCSVSink(filepath.Join(dir, "bad.csv"))
	goodSink := writer.NewCSVSink(filepath.Join(dir, "good.csv"))
	defer badSink.Close()
	defer goodSink.Close()

	bad := newStub(0, func(int) ([]models.Row, error) {
		return nil, errkind.Wrap(errkind.ErrAuth, errors.New("api-signature-not-valid"))
	})
	good := newStub(3, func(call int) ([]models.Row, error) {
		return []models.Row{{models.F("n", "x")}}, nil
	})

	d, err := New([]Worker{
		{Stream: testStream("bad"), Adapter: bad, Sink: badSink},
		{Stream: testStream("good"), Adapter: good, Sink: goodSink},
	}, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	waitFor(t, good.reached)

	deadline := time.Now().Add(5 * time.Second)
	for !d.Stats()["huobi_ticker_bad"].Exited {
		if time.Now().After(deadline) {
			t.Fatal("auth failure did not stop the worker")
		}
		time.Sleep(time.Millisecond)
	}

	stats := d.Stats()
	if st := stats["huobi_ticker_bad"]; st.Reason != "auth" || st.Fetches != 1 {
		t.Errorf("unexpected bad worker stats %+v", st)
	}
	if st := stats["huobi_ticker_good"]; st.Exited || st.Rows != 3 {
		t.Errorf("unexpected good worker stats %+v", st)
	}
	if _, err := os.Stat(filepath.Join(dir, "bad.csv")); !os.IsNotExist(err) {
		t.Errorf("bad worker should not create its file, stat err %v", err)
	}

	cancel()
	d.Wait()
}

func TestSinkFailureStopsWorker(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	sink := writer.NewCSVSink(filepath.Join(blocker, "out.csv"))

	stub := newStub(0, func(int) ([]models.Row, error) {
		return []models.Row{{models.F("a", "1")}}, nil
	})
	d, err := New([]Worker{{Stream: testStream("btcusdt"), Adapter: stub, Sink: sink}}, testOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.Start(context.Background())
	waitFor(t, d.Done())

	if st := d.Stats()["huobi_ticker_btcusdt"]; st.Reason != "io" {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestDuplicateTargetsRejected(t *testing.T) {
	dir := t.TempDir()
	stub := newStub(0, func(int) ([]models.Row, error) { return nil, nil })
	_, err := New([]Worker{
		{Stream: testStream("a"), Adapter: stub, Sink: writer.NewCSVSink(filepath.Join(dir, "x.csv"))},
		{Stream: testStream("b"), Adapter: stub, Sink: writer.NewCSVSink(filepath.Join(dir, "sub", "..", "x.csv"))},
	}, testOptions())
	if !errors.Is(err, errkind.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestDurationStopsWorkers(t *testing.T) {
	stub := newStub(0, func(int) ([]models.Row, error) { return nil, nil })
	opts := testOptions()
	opts.Duration = 20 * time.Millisecond

	d, err := New([]Worker{{Stream: testStream("btcusdt"), Adapter: stub, Sink: writer.NewCSVSink(filepath.Join(t.TempDir(), "x.csv"))}}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.Start(context.Background())
	waitFor(t, d.Done())
}

func TestStaggeredBatches(t *testing.T) {
	dir := t.TempDir()
	first := newStub(1, func(int) ([]models.Row, error) { return nil, nil })
	second := newStub(1, func(int) ([]models.Row, error) { return nil, nil })

	opts := testOptions()
	opts.BatchSize = 1
	opts.Pause = time.Hour

	d, err := New([]Worker{
		{Stream: testStream("first"), Adapter: first, Sink: writer.NewCSVSink(filepath.Join(dir, "1.csv"))},
		{Stream: testStream("second"), Adapter: second, Sink: writer.NewCSVSink(filepath.Join(dir, "2.csv"))},
	}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	waitFor(t, first.reached)
	cancel()
	d.Wait()

	if st := d.Stats()["huobi_ticker_second"]; st.Fetches != 0 || st.Reason != "not started" {
		t.Fatalf("second batch should not have started, got %+v", st)
	}
}
