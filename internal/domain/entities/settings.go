package entities

// BackendKind selects the storage backend variant
type BackendKind string

// Storage backend variants
const (
	BackendLocal  BackendKind = "local"
	BackendBucket BackendKind = "bucket"
	BackendHosted BackendKind = "hosted"
)

// Settings is the run configuration (reposync.yml)
type Settings struct {
	ArtifactDir string
	CacheDir    string
	Backend     BackendKind
	Local       LocalBackendConfig
	Bucket      BucketBackendConfig
	Hosted      HostedBackendConfig
	Signing     SigningConfig
	Repository  RepositoryConfig
	MetricsFile string
}

// LocalBackendConfig configures the local directory backend
type LocalBackendConfig struct {
	Dir string
}

// BucketBackendConfig configures the object storage backend
type BucketBackendConfig struct {
	Name            string
	Prefix          string
	CredentialsFile string
}

// HostedBackendConfig configures the GitHub release backend
type HostedBackendConfig struct {
	Owner string
	Repo  string
	Tag   string
}

// SigningConfig locates the OpenPGP key used to sign the repository index
type SigningConfig struct {
	KeyFile       string
	PassphraseEnv string
}

// RepositoryConfig holds Release file metadata
type RepositoryConfig struct {
	Origin      string
	Label       string
	Suite       string
	Codename    string
	Description string
}
