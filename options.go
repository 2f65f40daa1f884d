package atomgo

import (
	"log/slog"

	"github.com/hupe1980/atomgo/autonomy"
	"github.com/hupe1980/atomgo/blobstore"
	"github.com/hupe1980/atomgo/config"
	"github.com/hupe1980/atomgo/embedding"
	"github.com/hupe1980/atomgo/ingest"
	"github.com/hupe1980/atomgo/provenance"
)

type options struct {
	config           config.Config
	logger           *Logger
	metricsCollector MetricsCollector
	sink             provenance.Sink
	projector        embedding.Projector
	embedder         ingest.Embedder
	remote           ingest.Checkpointer
	blobs            blobstore.BlobStore
	policy           autonomy.ApprovalPolicy
	executorConfig   autonomy.ExecutorConfig
}

// Option configures the store at Open time.
type Option func(*options)

// WithConfig replaces the whole configuration, e.g. one produced by
// config.Load.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithDataDir sets the root directory for the commit log, action queue
// and snapshot blobs. An empty dir selects an ephemeral temp directory
// removed on Close.
func WithDataDir(dir string) Option {
	return func(o *options) {
		o.config.DataDir = dir
	}
}

// WithChunkSize sets the number of decomposed units committed per WAL
// record during ingestion.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.config.Ingest.ChunkSize = n
	}
}

// WithAtomQuota sets the default atom quota applied to ingestion jobs
// that do not specify their own.
func WithAtomQuota(quota uint64) Option {
	return func(o *options) {
		o.config.Ingest.AtomQuota = quota
	}
}

// WithAutonomy enables or disables the background maintenance loop.
func WithAutonomy(enabled bool) Option {
	return func(o *options) {
		o.config.Autonomy.Enabled = enabled
	}
}

// WithEmbedder configures semantic indexing during ingestion. Without
// an embedder only the structural representation is maintained.
func WithEmbedder(e ingest.Embedder) Option {
	return func(o *options) {
		o.embedder = e
	}
}

// WithProjector overrides the 3-D projection applied to embedding
// vectors. The default projects the leading three dimensions.
func WithProjector(p embedding.Projector) Option {
	return func(o *options) {
		o.projector = p
	}
}

// WithProvenanceSink configures the audit event sink.
func WithProvenanceSink(sink provenance.Sink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithRemoteCheckpointer adds a secondary checkpoint store consulted
// when the local commit log has no record of a job, enabling resume on
// a different host.
func WithRemoteCheckpointer(cp ingest.Checkpointer) Option {
	return func(o *options) {
		o.remote = cp
	}
}

// WithBlobStore overrides where snapshot blobs are written. The default
// is a local store under the data directory; pass an S3 or MinIO
// backed store for durable remote snapshots.
func WithBlobStore(blobs blobstore.BlobStore) Option {
	return func(o *options) {
		o.blobs = blobs
	}
}

// WithApprovalPolicy gates autonomy actions. The default auto-approves.
func WithApprovalPolicy(policy autonomy.ApprovalPolicy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithExecutorConfig tunes the autonomy action executor.
func WithExecutorConfig(cfg autonomy.ExecutorConfig) Option {
	return func(o *options) {
		o.executorConfig = cfg
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &atomgo.BasicMetricsCollector{}
//	ag, _ := atomgo.Open(ctx, atomgo.WithMetricsCollector(metrics))
//	// ... use ag ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
//
// Example with JSON logging:
//
//	logger := atomgo.NewJSONLogger(slog.LevelInfo)
//	ag, _ := atomgo.Open(ctx, atomgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		config:           config.Default(),
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		sink:             provenance.NopSink{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
