package gateways

import (
	"crypto/md5" //nolint:gosec // G501: MD5sum is a mandatory Packages index field
	"crypto/sha1" //nolint:gosec // G505: SHA1 is a mandatory Packages index field
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/services"
)

// ComputeDigests hashes a file with every algorithm the repository index records
func ComputeDigests(filePath string) (entities.Digests, error) {
	//nolint:gosec // G304: File path is caller-provided for hashing
	f, err := os.Open(filePath)
	if err != nil {
		return entities.Digests{}, fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	return DigestReader(f)
}

// DigestReader hashes everything read from r in a single pass
func DigestReader(r io.Reader) (entities.Digests, error) {
	//nolint:gosec // G401: Weak hashes are part of the index format
	md5h, sha1h := md5.New(), sha1.New()
	sha256h, sha512h := sha256.New(), sha512.New()

	n, err := io.Copy(io.MultiWriter(md5h, sha1h, sha256h, sha512h), r)
	if err != nil {
		return entities.Digests{}, fmt.Errorf("failed to hash file: %w", err)
	}

	return entities.Digests{
		Size:   n,
		MD5:    hex.EncodeToString(md5h.Sum(nil)),
		SHA1:   hex.EncodeToString(sha1h.Sum(nil)),
		SHA256: hex.EncodeToString(sha256h.Sum(nil)),
		SHA512: hex.EncodeToString(sha512h.Sum(nil)),
	}, nil
}

// VerifyDigests recomputes a file's digests and compares them with the recorded ones
func VerifyDigests(filePath string, want entities.Digests) error {
	got, err := ComputeDigests(filePath)
	if err != nil {
		return err
	}
	return services.CompareDigests(filePath, want, got)
}
