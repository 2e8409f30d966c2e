// Package batch discovers scan containers under a folder and converts
// them to TIFF output, either in parallel with one worker per
// container or serially in discovery order. Failures are isolated per
// container; a summary is always produced, including when the run is
// stopped early.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/semaphore"
)

// ErrNoInputs is returned when discovery finds nothing to convert.
var ErrNoInputs = errors.New("no convertible files found")

// Status tracks a job through its lifetime.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	// StatusSkipped marks jobs never started because the run was
	// stopped or cancelled.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Job is one container conversion.
type Job struct {
	ID        uuid.UUID
	Path      string
	ShortName string // scan_01, scan_02, ... in discovery order
	Status    Status
	Err       error
}

// Stem returns the container filename without directory or extension.
func (j *Job) Stem() string {
	base := filepath.Base(j.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ProgressSink receives completion updates: done counts finished jobs
// (successes and failures both), message names the job or describes its
// error.
type ProgressSink interface {
	Progress(done int, message string)
}

// LogSink receives free-form run log lines.
type LogSink interface {
	Log(message string)
}

type nopSink struct{}

func (nopSink) Progress(int, string) {}
func (nopSink) Log(string)           {}

// Options configures a conversion run.
type Options struct {
	OutputDir string

	// Parallel runs every job concurrently; Workers caps the
	// concurrency, defaulting to one worker per job.
	Parallel bool
	Workers  int

	// Volume3D writes one multi-page BigTIFF per container instead of a
	// per-plane stack.
	Volume3D bool

	ConvertTo8Bit bool
	WritePreview  bool
	ZipOutput     bool

	// Percentile clip bounds for projection (.xrm) containers.
	LowPercentile  float64
	HighPercentile float64
}

// Summary reports the outcome of a run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Elapsed   time.Duration
}

// Runner executes conversion runs. Stop may be called from another
// goroutine; in-flight jobs finish, unstarted jobs are skipped.
type Runner struct {
	opts     Options
	progress ProgressSink
	logs     LogSink
	stopped  atomic.Bool

	// convert is swapped out by tests.
	convert func(job *Job, opts Options, logs LogSink) error
}

// NewRunner builds a runner. Nil sinks are allowed.
func NewRunner(opts Options, progress ProgressSink, logs LogSink) *Runner {
	if progress == nil {
		progress = nopSink{}
	}
	if logs == nil {
		logs = nopSink{}
	}
	if opts.LowPercentile == 0 && opts.HighPercentile == 0 {
		opts.LowPercentile, opts.HighPercentile = 0.1, 99.9
	}
	return &Runner{opts: opts, progress: progress, logs: logs, convert: convertOne}
}

// Stop requests an early finish. Safe to call repeatedly.
func (r *Runner) Stop() {
	r.stopped.Store(true)
}

// Discover walks root and returns every .txm and .xrm container in
// sorted path order.
func Discover(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txm", ".xrm":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Run converts the given containers and returns a summary. The summary
// is produced exactly once, stop or no stop; the error is non-nil only
// when the run could not start at all.
func (r *Runner) Run(ctx context.Context, paths []string) (*Summary, error) {
	if len(paths) == 0 {
		return nil, ErrNoInputs
	}

	jobs := make([]*Job, len(paths))
	for i, path := range paths {
		jobs[i] = &Job{
			ID:        uuid.New(),
			Path:      path,
			ShortName: fmt.Sprintf("scan_%02d", i+1),
		}
		r.logs.Log(fmt.Sprintf("Queued %s as %s (job %s)",
			filepath.Base(path), jobs[i].ShortName, jobs[i].ID))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		share := vm.Available / uint64(len(jobs))
		r.logs.Log(fmt.Sprintf("Memory per worker: %s", humanize.IBytes(share)))
	}
	r.logs.Log(fmt.Sprintf("Starting conversion of %d scans...", len(jobs)))

	start := time.Now()
	if r.opts.Parallel {
		r.runParallel(ctx, jobs)
	} else {
		r.runSerial(ctx, jobs)
	}

	summary := &Summary{Total: len(jobs), Elapsed: time.Since(start)}
	for _, job := range jobs {
		switch job.Status {
		case StatusSucceeded:
			summary.Succeeded++
		case StatusFailed:
			summary.Failed++
		default:
			job.Status = StatusSkipped
			summary.Skipped++
		}
	}
	r.logs.Log(fmt.Sprintf("Batch conversion completed in %s", summary.Elapsed.Round(time.Millisecond)))
	return summary, nil
}

type result struct {
	job *Job
	err error
}

// runParallel starts one goroutine per job, bounded by the worker
// semaphore, and consumes completions in arrival order.
func (r *Runner) runParallel(ctx context.Context, jobs []*Job) {
	workers := r.opts.Workers
	if workers <= 0 {
		workers = len(jobs)
	}
	sem := semaphore.NewWeighted(int64(workers))
	// Buffered so a finished worker can post its result and release its
	// semaphore slot while the launch loop is still blocked in Acquire;
	// consumption starts only after dispatch ends.
	results := make(chan result, len(jobs))

	launched := 0
	for _, job := range jobs {
		if r.stopped.Load() || ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		launched++
		job.Status = StatusRunning
		go func(job *Job) {
			defer sem.Release(1)
			results <- result{job: job, err: r.convert(job, r.opts, r.logs)}
		}(job)
	}

	for i := 0; i < launched; i++ {
		res := <-results
		r.finish(res.job, res.err, i+1)
	}
}

// runSerial converts jobs one at a time in discovery order, checking
// for cancellation between jobs.
func (r *Runner) runSerial(ctx context.Context, jobs []*Job) {
	done := 0
	for _, job := range jobs {
		if r.stopped.Load() || ctx.Err() != nil {
			break
		}
		job.Status = StatusRunning
		err := r.convert(job, r.opts, r.logs)
		done++
		r.finish(job, err, done)
	}
}

func (r *Runner) finish(job *Job, err error, done int) {
	if err != nil {
		job.Status = StatusFailed
		job.Err = err
		r.progress.Progress(done, fmt.Sprintf("Error: %s, %v", job.Stem(), err))
		r.logs.Log(fmt.Sprintf("Error processing %s: %v", filepath.Base(job.Path), err))
		return
	}
	job.Status = StatusSucceeded
	r.progress.Progress(done, job.Stem())
	r.logs.Log(fmt.Sprintf("Processed: %s", filepath.Base(job.Path)))
}

// WriterLogSink writes log lines to an io.Writer, one per line.
type WriterLogSink struct {
	W io.Writer
}

func (s WriterLogSink) Log(message string) {
	fmt.Fprintln(s.W, message)
}
