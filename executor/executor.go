// Package executor runs finished ToolCommandlines as local OS
// processes: it materializes the task's input payload to a temp file,
// invokes the configured tool executable, and reads back the output
// file, bounded at a configurable concurrency limit (spec §4.4, §5).
//
// Grounded in the original Modules/LocalExecutor/LocalExecutor.{h,cpp}:
// AddTask queues a task and lazily starts the dispatch loop;
// SetMaxProcesses adjusts the concurrency bound at runtime; the dispatch loop paces itself the same way the transport
// handler's quantum loop does (spec §5), rather than blocking a
// dedicated OS thread per subprocess slot.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wuild-project/wuild/runtime/diskio"
	"github.com/wuild-project/wuild/runtime/model"
)

// Result is delivered to a Task's Callback exactly once.
type Result struct {
	Success       bool
	OutputData    []byte
	Stdout        string
	ExecutionTime time.Duration
}

// Callback is invoked when a Task finishes or fails to start.
type Callback func(Result)

// Task is one locally-executed invocation: a ToolCommandline (already
// split and argument-rewritten by runtime/invocation) plus the input
// payload to write to disk before running and whether to read the
// output file back afterward.
type Task struct {
	Invocation        model.ToolCommandline
	InputData         []byte
	CompressionInput  model.CompressionInfo
	CompressionOutput model.CompressionInfo
	// WriteInput, when true, writes InputData to a temp file and
	// rewrites the invocation's input arg to point at it (false for a
	// purely local invocation that already references real paths).
	WriteInput bool
	// ReadOutput, when true, reads the invocation's output file back
	// into the Result after a successful run.
	ReadOutput bool
	Callback   Callback
}

func (t *Task) shortInfo() string {
	return t.Invocation.Id.String() + ": " + t.Invocation.ArgsString(false)
}

func (t *Task) fail(msg string) {
	t.Callback(Result{Stdout: msg})
}

// Executor runs Tasks as local OS processes, bounded at
// cfg.MaxProcesses concurrent subprocesses. Extra tasks queue and
// count toward QueueSize, which feeds ToolServerInfo.QueuedTasks.
type Executor struct {
	cfg Config

	mu      sync.Mutex
	queue   []*Task
	running int
	taskId  uint64
	started bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an Executor. Call Start (or AddTask, which starts it
// lazily) before queuing work.
func New(cfg Config) *Executor {
	return &Executor{cfg: cfg, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// Start begins the dispatch loop. Safe to call more than once; only
// the first call has effect.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()
	go e.loop(ctx)
}

// Stop halts the dispatch loop and waits for it to exit. In-flight
// subprocesses are not killed; they are left to finish and deliver
// their callback.
func (e *Executor) Stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	<-e.doneCh
}

// AddTask enqueues task for execution, starting the dispatch loop on
// first use if Start was not already called (mirrors the original's
// lazy-start-on-first-AddTask behavior).
func (e *Executor) AddTask(ctx context.Context, task *Task) {
	e.mu.Lock()
	e.queue = append(e.queue, task)
	started := e.started
	e.mu.Unlock()
	if !started {
		e.Start(ctx)
	}
}

// SyncExecTask queues task and blocks until it completes, returning
// its Result. Precondition (per the original): only safe to call when
// the caller doesn't need the queue to stay empty for anyone else.
func (e *Executor) SyncExecTask(ctx context.Context, task *Task) Result {
	done := make(chan Result, 1)
	original := task.Callback
	task.Callback = func(r Result) {
		if original != nil {
			original(r)
		}
		done <- r
	}
	e.AddTask(ctx, task)
	return <-done
}

// SetMaxProcesses adjusts the concurrency bound at runtime (spec §6:
// reread on SIGHUP / config reload).
func (e *Executor) SetMaxProcesses(n int) {
	e.mu.Lock()
	e.cfg.MaxProcesses = n
	e.mu.Unlock()
}

// QueueSize reports tasks waiting to run, excluding in-flight ones.
func (e *Executor) QueueSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// RunningCount reports in-flight subprocess count.
func (e *Executor) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Executor) loop(ctx context.Context) {
	defer close(e.doneCh)
	limiter := rate.NewLimiter(rate.Every(e.cfg.QuantumInterval), 1)
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		e.dispatchReady(ctx)
	}
}

// dispatchReady launches as many queued tasks as the concurrency
// bound currently allows, one goroutine per subprocess.
func (e *Executor) dispatchReady(ctx context.Context) {
	for {
		e.mu.Lock()
		if e.running >= e.cfg.MaxProcesses || len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue = e.queue[1:]
		e.running++
		id := e.taskId
		e.taskId++
		e.mu.Unlock()

		go e.run(ctx, id, task)
	}
}

func (e *Executor) run(ctx context.Context, id uint64, task *Task) {
	defer func() {
		e.mu.Lock()
		e.running--
		e.mu.Unlock()
	}()

	inv := task.Invocation
	inv.Args = append([]string(nil), task.Invocation.Args...)

	var outputPath string
	if task.WriteInput {
		sourceInput := inv.Input()
		sourceOutput := inv.Output()
		if sourceInput == "" || sourceOutput == "" {
			task.fail(fmt.Sprintf("failed to extract filenames for %s", task.shortInfo()))
			return
		}

		prefix := filepath.Join(e.cfg.TempPath, fmt.Sprintf("%d_", id))
		tmpIn := prefix + filepath.Base(sourceInput)
		tmpOut := prefix + filepath.Base(sourceOutput)
		_ = os.Remove(tmpOut)
		defer os.Remove(tmpIn)
		defer os.Remove(tmpOut)

		raw, err := diskio.Decompress(task.InputData, task.CompressionInput)
		if err != nil {
			task.fail(err.Error())
			return
		}
		if err := diskio.WriteAtomic(tmpIn, raw); err != nil {
			task.fail(err.Error())
			return
		}
		inv.SetInput(tmpIn)
		inv.SetOutput(tmpOut)
		outputPath = tmpOut
	} else {
		outputPath = inv.Output()
	}

	executable := inv.Id.ExecutablePath
	if executable == "" {
		task.fail(fmt.Sprintf("failed to create cmd string for %s", task.shortInfo()))
		return
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, executable, inv.Args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	runErr := cmd.Run()
	elapsed := time.Since(start)

	stdout := output.String()
	if runErr == nil && len(stdout) < 1000 && strings.Count(stdout, "\n") <= 1 && strings.Contains(executable, "cl.exe") {
		// cl.exe always echoes the input filename to stderr.
		stdout = ""
	}

	result := Result{Success: runErr == nil, Stdout: stdout, ExecutionTime: elapsed}

	if result.Success && task.ReadOutput {
		data, err := os.ReadFile(outputPath)
		if err != nil {
			result.Success = false
			result.Stdout = fmt.Sprintf("failed to read file %s", outputPath)
		} else {
			compressed, cerr := diskio.Compress(data, task.CompressionOutput)
			if cerr != nil {
				result.Success = false
				result.Stdout = cerr.Error()
			} else {
				result.OutputData = compressed
			}
		}
	}

	task.Callback(result)
}
