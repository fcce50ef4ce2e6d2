package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ochairo/reposync/internal/domain-adapters/backends"
	"github.com/ochairo/reposync/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/reposync/internal/domain-orchestrators"
	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/interfaces"
	ifgateways "github.com/ochairo/reposync/internal/domain/interfaces/gateways"
	"github.com/ochairo/reposync/internal/external-adapters/deb"
	"github.com/ochairo/reposync/internal/external-adapters/gcs"
	"github.com/ochairo/reposync/internal/external-adapters/gpg"
	"github.com/ochairo/reposync/internal/external-adapters/logging"
	"github.com/ochairo/reposync/internal/external-adapters/metrics"
	"github.com/ochairo/reposync/internal/external-adapters/yaml"
)

// RebuildEnv forces a full rebuild when set to any non-empty value
const RebuildEnv = "REPOSYNC_REBUILD"

// RootOptions holds the command line flags
type RootOptions struct {
	Config  string
	Catalog string
	Verbose bool
	Bump    bool
	Reload  bool
	Rebuild bool
}

// NewRootCommand creates the reposync command
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "reposync",
		Short: "Build and publish a Debian repository from upstream releases",
		Long: `reposync discovers upstream versions of every configured product, packages
the missing ones as .deb files and publishes them, with a signed repository
index, to a local directory, a storage bucket or a GitHub release.

Examples:
  reposync --config reposync.yml --catalog catalog.yml
  reposync --bump                 # Increment the patch level of the latest versions
  REPOSYNC_REBUILD=1 reposync     # Same as --rebuild`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if os.Getenv(RebuildEnv) != "" {
				opts.Rebuild = true
			}
			return run(cmd.Context(), opts, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "reposync.yml", "path to the settings file")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "catalog.yml", "path to the product catalog")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.Flags().BoolVar(&opts.Bump, "bump", false, "increment the patch level of each product's latest release and exit")
	cmd.Flags().BoolVar(&opts.Reload, "reload", false, "download upstream sources again")
	cmd.Flags().BoolVar(&opts.Rebuild, "rebuild", false, "rebuild every package and reset the remote repository")

	return cmd
}

func run(ctx context.Context, opts *RootOptions, stderr io.Writer) error {
	logger := logging.NewSlogLogger(stderr, opts.Verbose)

	settings, err := yaml.NewSettingsParser().ParseFile(opts.Config)
	if err != nil {
		return err
	}
	for _, dir := range []string{settings.ArtifactDir, settings.CacheDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	signer, err := newSigner(settings.Signing)
	if err != nil {
		return err
	}

	runMetrics := metrics.NewRunMetrics()
	scripts := gateways.NewScriptExecutor(logger)

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close() //nolint:errcheck // Best-effort release at exit
		}
	}()

	pipeline := orchestrators.NewPipeline(orchestrators.PipelineDeps{
		Catalog:  yaml.NewCatalogRepository(opts.Catalog),
		Versions: gateways.NewVersionFetcher(),
		Sources:  gateways.NewDownloader(logger),
		Builder:  gateways.NewPackager(scripts, settings.Repository.Origin, logger),
		Inspect:  deb.Inspect,
		Indexer:  gateways.NewIndexer(settings.Repository, signer, logger),
		Finder:   gateways.NewArtifactFinder(),
		Store: func(ctx context.Context) (orchestrators.RemoteStore, error) {
			backend, closer, err := openBackend(ctx, settings, logger)
			if err != nil {
				return nil, err
			}
			if closer != nil {
				closers = append(closers, closer)
			}
			return backends.NewStore(ctx, backend, opts.Rebuild, logger)
		},
		Notifier: gateways.NewNotifierFromEnv(),
		Metrics:  runMetrics,
		Logger:   logger,
	}, orchestrators.PipelineConfig{
		ArtifactDir: settings.ArtifactDir,
		CacheDir:    settings.CacheDir,
		Title:       settings.Repository.Description,
		Bump:        opts.Bump,
		Reload:      opts.Reload,
		Rebuild:     opts.Rebuild,
	})

	result, runErr := pipeline.Run(ctx)
	runMetrics.Finish(runErr == nil)
	if settings.MetricsFile != "" {
		if err := runMetrics.WriteTextfile(settings.MetricsFile); err != nil {
			logger.Warn("Failed to write metrics", interfaces.F("error", err))
		}
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("Run finished",
		interfaces.F("outcome", string(result.Outcome)),
		interfaces.F("built", len(result.Built)),
		interfaces.F("reused", len(result.Reused)),
		interfaces.F("beta_failures", len(result.BetaFailures)))
	return nil
}

// newSigner loads the repository signing key. Without a key file the index
// is published unsigned.
func newSigner(cfg entities.SigningConfig) (gateways.IndexSigner, error) {
	if cfg.KeyFile == "" {
		return nil, nil
	}
	var passphrase []byte
	if cfg.PassphraseEnv != "" {
		passphrase = []byte(os.Getenv(cfg.PassphraseEnv))
	}
	signer, err := gpg.NewSignerFromFile(cfg.KeyFile, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	return signer, nil
}

// openBackend creates the configured storage backend variant
func openBackend(ctx context.Context, settings *entities.Settings, logger interfaces.Logger) (ifgateways.StorageBackend, io.Closer, error) {
	switch settings.Backend {
	case entities.BackendLocal:
		backend, err := backends.NewLocalBackend(settings.Local.Dir)
		return backend, nil, err

	case entities.BackendBucket:
		client, err := gcs.NewClient(ctx, settings.Bucket.Name, settings.Bucket.Prefix, settings.Bucket.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return backends.NewBucketBackend(client, logger), client, nil

	case entities.BackendHosted:
		token := os.Getenv("GITHUB_TOKEN")
		if token == "" {
			token = os.Getenv("GH_TOKEN")
		}
		if token == "" {
			return nil, nil, fmt.Errorf("GITHUB_TOKEN environment variable is required for the hosted backend")
		}
		backend, err := backends.NewHostedBackend(ctx, gateways.NewHTTPGitHubGateway(token), settings.Hosted)
		return backend, nil, err

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", settings.Backend)
	}
}
