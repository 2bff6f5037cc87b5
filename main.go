package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mysql-oss-backup/internal/backup"
	"mysql-oss-backup/internal/compress"
	"mysql-oss-backup/internal/config"
	"mysql-oss-backup/internal/dump"
	"mysql-oss-backup/internal/errors"
	"mysql-oss-backup/internal/logger"
	"mysql-oss-backup/internal/storage"
)

// Exit codes by failed stage, so cron wrappers and alerting can tell a
// refused dump from a failed upload.
const (
	exitOK       = 0
	exitConfig   = 1
	exitDump     = 2
	exitCompress = 3
	exitUpload   = 4
	exitSweep    = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	// Environment wins over .env; a missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		return exitConfig
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warnw("received shutdown signal, canceling")
		cancel()
	}()

	start := time.Now()
	log.Infow("starting backup run",
		"schema", cfg.Schema,
		"host", cfg.MySQLHost,
		"bucket", cfg.OSSBucket,
		"prefix", cfg.OSSPrefix,
		"keep_days", cfg.KeepOSSDays,
	)

	store, err := storage.NewOSSClient(ctx, cfg)
	if err != nil {
		log.Errorw("object store setup failed", "error", err)
		return exitConfig
	}

	var stager backup.Stager
	if cfg.HasLocalStaging() {
		local, err := storage.NewLocalStore(cfg.LocalBackupDir, cfg.KeepLocalDays, backup.ParseArtifactTime)
		if err != nil {
			log.Errorw("local staging setup failed", "error", err)
			return exitConfig
		}
		log.Infow("staging backups locally", "dir", local.Dir(), "keep_days", cfg.KeepLocalDays)
		stager = local
	}

	pipeline := backup.NewPipeline(
		dump.NewMySQLDumper(cfg),
		compress.NewGzipCompressor(),
		store,
		backup.Options{
			Bucket:     cfg.OSSBucket,
			Prefix:     cfg.OSSPrefix,
			KeepDays:   cfg.KeepOSSDays,
			TimeSuffix: cfg.TimeSuffix,
			Stager:     stager,
			Logger:     log,
		},
	)

	res, err := pipeline.Run(ctx)
	if err != nil {
		if res != nil {
			// The upload itself succeeded; only the sweep misbehaved.
			log.Errorw("backup stored but run failed",
				"key", res.Key,
				"swept", len(res.Swept),
				"error", err,
			)
		} else {
			log.Errorw("backup run failed", "error", err)
		}
		return exitCodeFor(err)
	}

	log.Infow("backup run complete",
		"key", res.Key,
		"dump_bytes", res.DumpBytes,
		"artifact_bytes", res.ArtifactBytes,
		"swept", len(res.Swept),
		"pruned", len(res.Pruned),
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)

	return exitOK
}

func exitCodeFor(err error) int {
	var (
		cfgErr   *errors.ConfigError
		dumpErr  *errors.DumpError
		compErr  *errors.CompressError
		upErr    *errors.UploadError
		sweepErr *errors.SweepError
	)

	switch {
	case stderrors.As(err, &cfgErr):
		return exitConfig
	case stderrors.As(err, &dumpErr):
		return exitDump
	case stderrors.As(err, &compErr):
		return exitCompress
	case stderrors.As(err, &upErr):
		return exitUpload
	case stderrors.As(err, &sweepErr):
		return exitSweep
	default:
		return exitConfig
	}
}
