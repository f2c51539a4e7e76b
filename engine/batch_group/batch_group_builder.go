package batch_group

// BatchGroupOption is a functional option for configuring a BatchGroup via
// NewBatchGroup.
type BatchGroupOption func(*batchGroup)

// WithQueryWorkers is an option builder that sets the worker count used for
// the parallel query fan-out. Defaults to NumCPU-1, minimum 1.
//
// Parameters:
//   - workers: the worker count, values below 1 are ignored
//
// Returns:
//   - BatchGroupOption: a function that applies the worker count option
func WithQueryWorkers(workers int) BatchGroupOption {
	return func(g *batchGroup) {
		if workers >= 1 {
			g.queryWorkers = workers
		}
	}
}
