package yaml

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// yamlSettings represents the raw YAML structure of reposync.yml.
// Backend sections are validated only for the selected variant.
type yamlSettings struct {
	ArtifactDir string         `yaml:"artifact_dir" validate:"required"`
	CacheDir    string         `yaml:"cache_dir" validate:"required"`
	Backend     string         `yaml:"backend" validate:"required,oneof=local bucket hosted"`
	Local       yamlLocal      `yaml:"local" validate:"-"`
	Bucket      yamlBucket     `yaml:"bucket" validate:"-"`
	Hosted      yamlHosted     `yaml:"hosted" validate:"-"`
	Signing     yamlSigning    `yaml:"signing"`
	Repository  yamlRepository `yaml:"repository"`
	MetricsFile string         `yaml:"metrics_file"`
}

type yamlLocal struct {
	Dir string `yaml:"dir" validate:"required"`
}

type yamlBucket struct {
	Name            string `yaml:"name" validate:"required"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

type yamlHosted struct {
	Owner string `yaml:"owner" validate:"required"`
	Repo  string `yaml:"repo" validate:"required"`
	Tag   string `yaml:"tag" validate:"required"`
}

type yamlSigning struct {
	KeyFile       string `yaml:"key_file"`
	PassphraseEnv string `yaml:"passphrase_env" validate:"omitempty,excluded_without=KeyFile"`
}

type yamlRepository struct {
	Origin      string `yaml:"origin"`
	Label       string `yaml:"label"`
	Suite       string `yaml:"suite"`
	Codename    string `yaml:"codename"`
	Description string `yaml:"description"`
}

// SettingsParser parses reposync.yml documents
type SettingsParser struct {
	validate *validator.Validate
}

// NewSettingsParser creates a new settings parser
func NewSettingsParser() *SettingsParser {
	return &SettingsParser{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// ParseFile parses a settings file
func (p *SettingsParser) ParseFile(filePath string) (*entities.Settings, error) {
	//nolint:gosec // G304: filePath is the operator-provided settings path
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	return p.Parse(data)
}

// Parse parses YAML bytes into a Settings entity
func (p *SettingsParser) Parse(data []byte) (*entities.Settings, error) {
	var raw yamlSettings
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := p.validate.Struct(&raw); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	var variant interface{}
	switch entities.BackendKind(raw.Backend) {
	case entities.BackendLocal:
		variant = &raw.Local
	case entities.BackendBucket:
		variant = &raw.Bucket
	case entities.BackendHosted:
		variant = &raw.Hosted
	}
	if err := p.validate.Struct(variant); err != nil {
		return nil, fmt.Errorf("invalid %s backend settings: %w", raw.Backend, err)
	}

	suite := raw.Repository.Suite
	if suite == "" {
		suite = "stable"
	}

	return &entities.Settings{
		ArtifactDir: raw.ArtifactDir,
		CacheDir:    raw.CacheDir,
		Backend:     entities.BackendKind(raw.Backend),
		Local:       entities.LocalBackendConfig{Dir: raw.Local.Dir},
		Bucket: entities.BucketBackendConfig{
			Name:            raw.Bucket.Name,
			Prefix:          raw.Bucket.Prefix,
			CredentialsFile: raw.Bucket.CredentialsFile,
		},
		Hosted: entities.HostedBackendConfig{
			Owner: raw.Hosted.Owner,
			Repo:  raw.Hosted.Repo,
			Tag:   raw.Hosted.Tag,
		},
		Signing: entities.SigningConfig{
			KeyFile:       raw.Signing.KeyFile,
			PassphraseEnv: raw.Signing.PassphraseEnv,
		},
		Repository: entities.RepositoryConfig{
			Origin:      raw.Repository.Origin,
			Label:       raw.Repository.Label,
			Suite:       suite,
			Codename:    raw.Repository.Codename,
			Description: raw.Repository.Description,
		},
		MetricsFile: raw.MetricsFile,
	}, nil
}
