package ports

import "neurodiff/domain/run"

// ProgressSink receives stage events while a pipeline runs. Implementations
// must not block the pipeline.
type ProgressSink interface {
	Publish(event run.StageEvent)
}
