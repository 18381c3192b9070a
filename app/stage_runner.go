package app

import (
	"context"
	"log"
	"time"

	"neurodiff/domain/core"
	"neurodiff/domain/run"
	"neurodiff/internal/errors"
	"neurodiff/ports"
)

// StageRunner executes pipeline stages in order, timing each one, publishing
// progress and tagging failures with their stage.
type StageRunner struct {
	sink  ports.ProgressSink
	total int
	done  int
}

// NewStageRunner creates a stage runner for a plan of total stages. sink may
// be nil.
func NewStageRunner(sink ports.ProgressSink, total int) *StageRunner {
	return &StageRunner{sink: sink, total: total}
}

// Do runs fn as stage. A cancelled context stops the pipeline before the
// stage starts.
func (r *StageRunner) Do(ctx context.Context, runID core.RunID, stage core.Stage, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return errors.ForStage(stage, err)
	}
	start := time.Now()
	r.publish(run.StageEvent{RunID: runID, Kind: run.EventStageStarted, Stage: stage})

	err := fn(ctx)
	elapsed := float64(time.Since(start).Nanoseconds()) / 1e6
	if err != nil {
		err = errors.ForStage(stage, err)
		log.Printf("[Pipeline] %s: stage %s failed after %.2fms: %v", runID, stage, elapsed, err)
		r.publish(run.StageEvent{RunID: runID, Kind: run.EventStageFailed, Stage: stage, ElapsedMs: elapsed, Message: err.Error()})
		return err
	}

	r.done++
	log.Printf("[Pipeline] %s: stage %s completed in %.2fms", runID, stage, elapsed)
	r.publish(run.StageEvent{RunID: runID, Kind: run.EventStageFinished, Stage: stage, ElapsedMs: elapsed})
	return nil
}

// Finish publishes the terminal event of a run.
func (r *StageRunner) Finish(rn *run.Run) {
	r.publish(run.StageEvent{RunID: rn.ID, Kind: run.EventRunFinished, Message: string(rn.Status)})
}

func (r *StageRunner) publish(e run.StageEvent) {
	if r.sink == nil {
		return
	}
	if r.total > 0 {
		e.Progress = float64(r.done) / float64(r.total)
	}
	e.Timestamp = time.Now().UTC()
	r.sink.Publish(e)
}
