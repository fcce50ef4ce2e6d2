package gateways

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/interfaces"
	"github.com/ochairo/reposync/internal/external-adapters/deb"
)

// StagingSuffix names the per-package working directory inside the artifact directory
const StagingSuffix = ".build"

// InstallRoot is where package contents are installed on the target system
const InstallRoot = "opt"

// Packager turns an upstream source archive into a .deb
type Packager struct {
	scripts    *ScriptExecutor
	logger     interfaces.Logger
	maintainer string
}

// NewPackager creates a new packager
func NewPackager(scripts *ScriptExecutor, maintainer string, logger interfaces.Logger) *Packager {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	if scripts == nil {
		scripts = NewScriptExecutor(logger)
	}
	return &Packager{
		scripts:    scripts,
		logger:     logger,
		maintainer: maintainer,
	}
}

// BuildPackage unpacks sourceArchive, runs the product's prepare script and writes
// the record's package file into artifactDir. The captured script output is returned
// even when the build fails.
func (p *Packager) BuildPackage(
	ctx context.Context,
	product *entities.Product,
	record *entities.ArtifactRecord,
	sourceArchive, artifactDir string,
) (string, string, error) {
	fileName := record.PackageFileName()
	dest := filepath.Join(artifactDir, fileName)
	stage := filepath.Join(artifactDir, fileName+StagingSuffix)

	if err := os.RemoveAll(stage); err != nil {
		return "", "", fmt.Errorf("failed to reset staging directory: %w", err)
	}
	//nolint:errcheck // Best effort staging cleanup
	defer os.RemoveAll(stage)

	srcDir := filepath.Join(stage, "src")
	if err := ExtractTarGz(sourceArchive, srcDir, p.logger); err != nil {
		return "", "", fmt.Errorf("%w: %s: %w", ErrDownload, filepath.Base(sourceArchive), err)
	}
	topDir, err := singleTopDir(srcDir)
	if err != nil {
		return "", "", err
	}

	root := filepath.Join(stage, "root")
	installDir := filepath.Join(root, InstallRoot, record.PackageName())
	if err := os.MkdirAll(filepath.Dir(installDir), 0750); err != nil {
		return "", "", fmt.Errorf("failed to create install root: %w", err)
	}

	var output string
	if product.Prepare != "" {
		if err := os.MkdirAll(installDir, 0750); err != nil {
			return "", "", fmt.Errorf("failed to create install directory: %w", err)
		}
		output, err = p.scripts.RunPrepare(ctx, PrepareScriptConfig{
			Script:    product.Prepare,
			Product:   product,
			Record:    record,
			SourceDir: topDir,
			StageDir:  installDir,
		})
		if err != nil {
			return "", output, err
		}
	} else if err := os.Rename(topDir, installDir); err != nil {
		return "", "", fmt.Errorf("failed to stage package contents: %w", err)
	}

	installedSize, err := treeSizeKiB(root)
	if err != nil {
		return "", output, err
	}

	control := RenderControl(product, record, p.maintainer, installedSize)
	part := dest + PartSuffix
	if err := deb.Write(part, control, root, stage); err != nil {
		_ = os.Remove(part)
		return "", output, fmt.Errorf("failed to write package: %w", err)
	}
	if err := os.Rename(part, dest); err != nil {
		return "", output, fmt.Errorf("failed to finalize package: %w", err)
	}

	p.logger.Info("Built package",
		interfaces.F("file", fileName),
		interfaces.F("installed_kib", installedSize))
	return dest, output, nil
}

// RenderControl produces the DEBIAN/control paragraph of a record's package
func RenderControl(product *entities.Product, record *entities.ArtifactRecord, maintainer string, installedSize int64) []byte {
	var b strings.Builder
	field := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", key, value)
		}
	}

	if maintainer == "" {
		maintainer = "reposync"
	}
	section := product.Section
	if section == "" {
		section = "misc"
	}

	field("Package", record.PackageName())
	field("Version", record.PackagingVersion())
	field("Architecture", record.Architecture.PackagingName())
	field("Maintainer", maintainer)
	field("Installed-Size", strconv.FormatInt(installedSize, 10))
	field("Depends", strings.Join(product.Depends, ", "))
	field("Section", section)
	field("Priority", "optional")

	summary := product.Name
	if summary == "" {
		summary = product.ID
	}
	if record.IsBeta() {
		summary += " (beta)"
	}
	b.WriteString("Description: " + summary + "\n")
	if long := strings.TrimSpace(product.Description); long != "" {
		for _, line := range strings.Split(long, "\n") {
			if line = strings.TrimRight(line, " \t"); line == "" {
				b.WriteString(" .\n")
			} else {
				b.WriteString(" " + line + "\n")
			}
		}
	}

	return []byte(b.String())
}

// singleTopDir returns the tarball's lone top-level directory, or dir itself
func singleTopDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read extracted directory: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

// treeSizeKiB sums regular file sizes under root, rounded up to KiB
func treeSizeKiB(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size package contents: %w", err)
	}
	return (total + 1023) / 1024, nil
}
