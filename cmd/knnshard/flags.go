package main

import (
	"flag"
	"io"

	"github.com/hupe1980/knnshard/config"
)

// parseFlags loads the config file named by -config and applies every flag
// that was set explicitly on top of it.
func parseFlags(args []string, output io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("knnshard", flag.ContinueOnError)
	fs.SetOutput(output)

	def := config.Default()
	var (
		configPath  = fs.String("config", "", "YAML configuration file")
		modelPath   = fs.String("model", "", "embedding model file")
		modelFormat = fs.String("model-format", def.Model.Format, "model format: word2vec or sqlite")
		table       = fs.String("sqlite-table", def.Model.SQLiteTable, "table holding (word, embedding) rows")
		limit       = fs.Int("limit", 0, "load only the first n words (0 = all)")
		float16     = fs.Bool("float16", false, "store vectors as half floats")
		k           = fs.Int("k", def.Run.K, "neighbors per word")
		shards      = fs.Int("shards", def.Run.Shards, "number of shard files")
		out         = fs.String("out", "", "output directory")
		start       = fs.Int("start", 0, "first vocabulary index")
		end         = fs.Int("end", def.Run.End, "vocabulary index after the last word (-1 = all)")
		rangeMode   = fs.Bool("range", false, "assign contiguous index ranges instead of single words")
		maxWorkers  = fs.Int("max-workers", 0, "concurrent workers (0 = unlimited)")
		fileLocks   = fs.Bool("file-locks", false, "also lock shard files across processes")
		logFormat   = fs.String("log-format", def.Log.Format, "log format: text or json")
		logLevel    = fs.String("log-level", def.Log.Level, "log level: debug, info, warn or error")
		metricsAddr = fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
		target      = fs.String("publish", "", "upload shards to local:<dir>, minio:<bucket> or s3:<bucket>")
		prefix      = fs.String("publish-prefix", "", "blob name prefix")
		compression = fs.String("compression", def.Publish.Compression, "upload compression: none, zstd or lz4")
	)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.Model.Path = *modelPath
		case "model-format":
			cfg.Model.Format = *modelFormat
		case "sqlite-table":
			cfg.Model.SQLiteTable = *table
		case "limit":
			cfg.Model.Limit = *limit
		case "float16":
			cfg.Model.Float16 = *float16
		case "k":
			cfg.Run.K = *k
		case "shards":
			cfg.Run.Shards = *shards
		case "out":
			cfg.Run.OutputDir = *out
		case "start":
			cfg.Run.Start = *start
		case "end":
			cfg.Run.End = *end
		case "range":
			cfg.Run.RangeMode = *rangeMode
		case "max-workers":
			cfg.Run.MaxWorkers = *maxWorkers
		case "file-locks":
			cfg.Run.FileLocks = *fileLocks
		case "log-format":
			cfg.Log.Format = *logFormat
		case "log-level":
			cfg.Log.Level = *logLevel
		case "metrics-addr":
			cfg.Metrics.Addr = *metricsAddr
		case "publish":
			cfg.Publish.Target = *target
		case "publish-prefix":
			cfg.Publish.Prefix = *prefix
		case "compression":
			cfg.Publish.Compression = *compression
		}
	})

	return cfg, cfg.Validate()
}
