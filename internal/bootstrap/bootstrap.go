// Package bootstrap assembles the batch service from process configuration.
// The binaries share it so the API, the worker and the CLI run batches the
// same way.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"videobatch/internal/domain"
	"videobatch/internal/infra"
	"videobatch/internal/providers/video"
	"videobatch/internal/service"
	"videobatch/internal/storage"
)

// Artifacts opens the local artifact store and, when ARTIFACT_BUCKET is set,
// mirrors every artifact to S3.
func Artifacts(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*storage.ArtifactStore, error) {
	files, err := storage.NewFileStore(cfg.ArtifactRoot)
	if err != nil {
		return nil, err
	}
	opts := []storage.ArtifactOption{storage.WithLogger(logger)}
	if strings.TrimSpace(cfg.ArtifactBucket) != "" {
		mirror, err := storage.NewS3Mirror(ctx, storage.S3Options{
			Region:   cfg.AWSRegion,
			Bucket:   cfg.ArtifactBucket,
			Prefix:   cfg.ArtifactPrefix,
			Endpoint: cfg.ArtifactEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: s3 mirror: %w", err)
		}
		opts = append(opts, storage.WithMirror(mirror))
		logger.Info().Str("bucket", cfg.ArtifactBucket).Msg("bootstrap: mirroring artifacts to s3")
	}
	return storage.NewArtifactStore(files, opts...)
}

// Settings derives the browser settings shared by every provider session.
func Settings(cfg *infra.Config, logger zerolog.Logger) video.Settings {
	return video.Settings{
		ProfileRoot: cfg.SessionStorageRoot,
		DownloadDir: cfg.DownloadRoot,
		ExecPath:    cfg.BrowserExecPath,
		Headless:    cfg.BrowserHeadless,
		Logger:      logger,
	}
}

// Service builds the batch service on the default provider registry.
// accounts may be nil when no database is configured.
func Service(cfg *infra.Config, logger zerolog.Logger, accounts domain.AccountRepository, artifacts *storage.ArtifactStore) *service.Service {
	return service.New(service.Options{
		Providers: video.Default(),
		Accounts:  accounts,
		Artifacts: artifacts,
		Settings:  Settings(cfg, logger),
		Config:    cfg.Batch(),
		Logger:    logger,
	})
}
