package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/ops"
)

type DaemonCommand struct{}

// request is one line read from stdin. Besides the operation types it
// accepts "stop", which halts motion immediately, and "state".
type request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// lineWriter serializes JSON lines to stdout.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *lineWriter) write(v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.enc.Encode(v)
}

func (c *DaemonCommand) Execute(args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		return runDaemon(ctx, a, os.Stdin, os.Stdout)
	})
}

func runDaemon(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	log := a.log.WithComponent("daemon")

	var store *ops.Store
	if a.cfg.HistoryDB != "" {
		var err error
		store, err = ops.OpenStore(a.cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()
		if n, err := store.FailUnfinished(ctx, "daemon restarted"); err != nil {
			log.Warn("could not close stale operations", logger.WithError(err))
		} else if n > 0 {
			log.Warn("stale operations marked failed", logger.WithField("count", n))
		}
	}

	qopts := ops.QueueOptions{Logger: a.log}
	if store != nil {
		qopts.Recorder = store
	}
	queue := ops.NewQueue(&ops.Dispatcher{
		Arm:            a.engine,
		Workflows:      a.runner,
		RecoverSpeed:   a.cfg.Motion.RecoverSpeed,
		RecoverTimeout: a.cfg.Motion.RecoverTimeout,
	}, qopts)
	defer queue.Close()

	w := &lineWriter{enc: json.NewEncoder(out)}

	// Scanning stdin blocks without regard to ctx, so it feeds a channel.
	lines := make(chan []byte)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	runCtx, finish := context.WithCancel(ctx)
	defer finish()
	g, gctx := errgroup.WithContext(runCtx)
	var waiters sync.WaitGroup

	if a.library.Path() != "" {
		g.Go(func() error {
			return a.library.Watch(gctx, log, nil)
		})
	}

	g.Go(func() error {
		for {
			var line []byte
			var ok bool
			select {
			case <-gctx.Done():
				return nil
			case line, ok = <-lines:
			}
			if !ok {
				log.Info("input closed, finishing queued operations")
				waiters.Wait()
				finish()
				return nil
			}
			if len(line) == 0 {
				continue
			}
			handleRequest(gctx, a, queue, w, &waiters, line)
		}
	})

	log.Info("daemon ready", logger.WithField("types", ops.Types()))
	err := g.Wait()

	// Fails whatever is still queued so every waiter reports.
	queue.Close()
	waiters.Wait()
	if ctx.Err() != nil {
		log.Info("shutting down")
		return nil
	}
	return err
}

func handleRequest(ctx context.Context, a *app, queue *ops.Queue, w *lineWriter, waiters *sync.WaitGroup, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		w.write(map[string]string{"error": fmt.Sprintf("bad request: %v", err)})
		return
	}

	switch req.Type {
	case "stop":
		err := a.engine.Stop(ctx)
		resp := map[string]any{"type": "stop", "ok": err == nil}
		if err != nil {
			resp["error"] = err.Error()
		}
		w.write(resp)
		return
	case "state":
		w.write(map[string]any{
			"type":    "state",
			"state":   a.engine.State(),
			"pending": queue.Pending(),
		})
		return
	}

	op, err := queue.Submit(ops.Type(req.Type), req.Payload)
	if err != nil {
		w.write(map[string]string{"type": req.Type, "error": err.Error()})
		return
	}
	w.write(op)

	waiters.Add(1)
	go func() {
		defer waiters.Done()
		done, err := queue.Wait(context.WithoutCancel(ctx), op.ID)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("wait for operation failed", logger.WithError(err))
			return
		}
		w.write(done)
	}()
}
