package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	done     []int
	messages []string
	lines    []string
}

func (s *recordingSink) Progress(done int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = append(s.done, done)
	s.messages = append(s.messages, message)
}

func (s *recordingSink) Log(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, message)
}

func stubConvert(r *Runner, fn func(job *Job) error) {
	r.convert = func(job *Job, _ Options, _ LogSink) error {
		return fn(job)
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	sink := &recordingSink{}
	r := NewRunner(Options{Parallel: true}, sink, sink)
	stubConvert(r, func(job *Job) error {
		if filepath.Base(job.Path) == "b.txm" {
			return errors.New("shape mismatch")
		}
		return nil
	})

	summary, err := r.Run(context.Background(), []string{"a.txm", "b.txm", "c.txm"})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)

	// Completion counts are monotonic regardless of arrival order.
	assert.Equal(t, []int{1, 2, 3}, sink.done)

	failed := false
	for _, m := range sink.messages {
		if m == "Error: b, shape mismatch" {
			failed = true
		}
	}
	assert.True(t, failed, "failure message names the scan and cause: %v", sink.messages)
}

func TestRunSerialOrderAndShortNames(t *testing.T) {
	var order []string
	r := NewRunner(Options{}, nil, nil)
	var shortNames []string
	stubConvert(r, func(job *Job) error {
		order = append(order, job.Path)
		shortNames = append(shortNames, job.ShortName)
		return nil
	})

	_, err := r.Run(context.Background(), []string{"x/1.txm", "x/2.txm", "x/3.txm"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x/1.txm", "x/2.txm", "x/3.txm"}, order)
	assert.Equal(t, []string{"scan_01", "scan_02", "scan_03"}, shortNames)
}

func TestRunSerialStopSkipsRemaining(t *testing.T) {
	sink := &recordingSink{}
	r := NewRunner(Options{}, sink, sink)
	stubConvert(r, func(job *Job) error {
		if job.ShortName == "scan_01" {
			r.Stop()
		}
		return nil
	})

	summary, err := r.Run(context.Background(), []string{"a.txm", "b.txm", "c.txm"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, summary.Skipped)

	// The completion line still appears on a stopped run.
	found := false
	for _, line := range sink.lines {
		if len(line) >= 26 && line[:26] == "Batch conversion completed" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunParallelBoundedWorkers(t *testing.T) {
	var mu sync.Mutex
	running, peak, total := 0, 0, 0

	r := NewRunner(Options{Parallel: true, Workers: 1}, nil, nil)
	stubConvert(r, func(*Job) error {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		running--
		total++
		mu.Unlock()
		return nil
	})

	// More jobs than workers: every job must still complete, one at a
	// time.
	summary, err := r.Run(context.Background(), []string{"a.txm", "b.txm", "c.txm", "d.txm"})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 4, total)
	assert.Equal(t, 1, peak, "worker cap must bound concurrency")
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(Options{Parallel: true}, nil, nil)
	stubConvert(r, func(*Job) error {
		t.Fatal("no job should start on a cancelled context")
		return nil
	})

	summary, err := r.Run(ctx, []string{"a.txm", "b.txm"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
}

func TestRunNoInputs(t *testing.T) {
	r := NewRunner(Options{}, nil, nil)
	_, err := r.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoInputs)
}

func TestRunJobsGetDistinctIDs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	r := NewRunner(Options{Parallel: true}, nil, nil)
	stubConvert(r, func(job *Job) error {
		mu.Lock()
		seen[job.ID.String()] = true
		mu.Unlock()
		return nil
	})

	_, err := r.Run(context.Background(), []string{"a.txm", "b.txm", "c.txm"})
	require.NoError(t, err)
	assert.Len(t, seen, 3)
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nested"), 0755))
	for _, name := range []string{"b.txm", "a.XRM", "notes.txt", "nested/c.txm"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0644))
	}

	paths, err := Discover(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.XRM"),
		filepath.Join(root, "b.txm"),
		filepath.Join(root, "nested", "c.txm"),
	}, paths)
}

func TestZipFilesFlat(t *testing.T) {
	dir := t.TempDir()
	var inputs []string
	for _, name := range []string{"scan_0000.tiff", "scan_0001.tiff"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0644))
		inputs = append(inputs, path)
	}

	zipPath := filepath.Join(dir, "scan.zip")
	require.NoError(t, zipFiles(zipPath, inputs))

	r, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"scan_0000.tiff", "scan_0001.tiff"}, names)
}
