package log

// Component and run context.
const (
	// ModelNameKey identifies the estimator, e.g. "RGFRegressor".
	ModelNameKey = "model.name"

	// RunIDKey carries the per-training uuid. Spill keys use the same id.
	RunIDKey = "run.id"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is logging.
	ComponentKey = "ml.component"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	WeightedKey = "data.weighted"
)

// Forest growth.
const (
	TreesKey      = "forest.trees"
	LeavesKey     = "forest.leaves"
	MaxLeavesKey  = "forest.max_leaves"
	MaxTreesKey   = "forest.max_trees"
	TreeIndexKey  = "forest.tree_index"
	NodeIndexKey  = "forest.node_index"
	FeatureKey    = "split.feature"
	GainKey       = "split.gain"
	ExitReasonKey = "forest.exit_reason"
)

// Optimization and evaluation.
const (
	LossKey        = "metrics.loss"
	IterationKey   = "opt.iteration"
	DeltaKey       = "opt.delta"
	ClampedKey     = "opt.clamped"
	DurationMsKey  = "perf.duration_ms"
	RegularizerKey = "reg.name"
	PathKey        = "io.path"
)

// Error context.
const (
	ErrAttrKey    = "error"
	StacktraceKey = "error.stacktrace"
	ErrorTypeKey  = "error.type"
)

// Standard attribute values.
const (
	OperationFit     = "fit"
	OperationPredict = "predict"
	OperationWrite   = "write"
	OperationRead    = "read"
	OperationDump    = "dump"
)
