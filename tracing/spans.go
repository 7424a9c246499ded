package tracing

// Span attribute keys.
const (
	AttrWorkerID     = "worker.id"
	AttrNamespace    = "buffer.namespace"
	AttrArtifactID   = "artifact.id"
	AttrQueueLength  = "queue.length"
	AttrVariantRank  = "variant.rank"
	AttrStrategy     = "variant.strategy"
	AttrAttempt      = "variant.attempt"
	AttrSimilarity   = "variant.similarity"
	AttrErrorMessage = "error.message"
)

// Span names.
const (
	SpanProduce         = "pool.produce"
	SpanVariantGenerate = "variant.generate"
	SpanVariantTask     = "variant.task"
	SpanPipelineProduce = "pipeline.produce"
)
