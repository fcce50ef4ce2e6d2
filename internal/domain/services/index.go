package services

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// indexOwnedFields are written by the indexer and never copied from a control file
var indexOwnedFields = map[string]bool{
	"Filename": true,
	"Size":     true,
	"MD5sum":   true,
	"SHA1":     true,
	"SHA256":   true,
	"SHA512":   true,
}

// ParseParagraphs parses Debian control-style paragraphs separated by blank lines.
// Continuation lines (leading space or tab) are appended to the previous value.
func ParseParagraphs(r io.Reader) ([][]entities.ControlField, error) {
	var paragraphs [][]entities.ControlField
	var current []entities.ControlField

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		switch {
		case strings.TrimSpace(line) == "":
			if len(current) > 0 {
				paragraphs = append(paragraphs, current)
				current = nil
			}
		case line[0] == ' ' || line[0] == '\t':
			if len(current) == 0 {
				return nil, fmt.Errorf("line %d: continuation without field", lineNo)
			}
			current[len(current)-1].Value += "\n" + line
		default:
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				return nil, fmt.Errorf("line %d: missing ':' in %q", lineNo, line)
			}
			current = append(current, entities.ControlField{Key: key, Value: strings.TrimSpace(value)})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read paragraphs: %w", err)
	}
	if len(current) > 0 {
		paragraphs = append(paragraphs, current)
	}
	return paragraphs, nil
}

// FieldValue returns the value of key in fields
func FieldValue(fields []entities.ControlField, key string) (string, bool) {
	for _, f := range fields {
		if strings.EqualFold(f.Key, key) {
			return f.Value, true
		}
	}
	return "", false
}

// ParsePackagesIndex parses a Packages index into entries
func ParsePackagesIndex(r io.Reader) ([]entities.IndexEntry, error) {
	paragraphs, err := ParseParagraphs(r)
	if err != nil {
		return nil, err
	}

	entries := make([]entities.IndexEntry, 0, len(paragraphs))
	for i, fields := range paragraphs {
		e := entities.IndexEntry{Fields: fields}
		e.Package, _ = FieldValue(fields, "Package")
		e.Version, _ = FieldValue(fields, "Version")
		e.Architecture, _ = FieldValue(fields, "Architecture")
		e.Filename, _ = FieldValue(fields, "Filename")
		if e.Filename == "" {
			return nil, fmt.Errorf("entry %d (%s): missing Filename", i, e.Package)
		}

		size, _ := FieldValue(fields, "Size")
		e.Digests.Size, err = strconv.ParseInt(size, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): invalid Size %q", i, e.Package, size)
		}
		e.Digests.MD5, _ = FieldValue(fields, "MD5sum")
		e.Digests.SHA1, _ = FieldValue(fields, "SHA1")
		e.Digests.SHA256, _ = FieldValue(fields, "SHA256")
		e.Digests.SHA512, _ = FieldValue(fields, "SHA512")
		entries = append(entries, e)
	}
	return entries, nil
}

// RenderPackagesIndex renders entries sorted by file name
func RenderPackagesIndex(entries []entities.IndexEntry) []byte {
	sorted := make([]entities.IndexEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Filename < sorted[j].Filename })

	var buf bytes.Buffer
	for i, e := range sorted {
		if i > 0 {
			buf.WriteByte('\n')
		}
		for _, f := range e.Fields {
			if indexOwnedFields[f.Key] {
				continue
			}
			fmt.Fprintf(&buf, "%s: %s\n", f.Key, f.Value)
		}
		fmt.Fprintf(&buf, "Filename: %s\n", e.Filename)
		fmt.Fprintf(&buf, "Size: %d\n", e.Digests.Size)
		fmt.Fprintf(&buf, "MD5sum: %s\n", e.Digests.MD5)
		fmt.Fprintf(&buf, "SHA1: %s\n", e.Digests.SHA1)
		fmt.Fprintf(&buf, "SHA256: %s\n", e.Digests.SHA256)
		fmt.Fprintf(&buf, "SHA512: %s\n", e.Digests.SHA512)
	}
	return buf.Bytes()
}

// ReleaseMeta holds the descriptive fields of a Release file
type ReleaseMeta struct {
	Origin        string
	Label         string
	Suite         string
	Codename      string
	Description   string
	Architectures []string
	Date          time.Time
}

// RenderRelease renders a flat-repository Release file listing files and their digests
func RenderRelease(meta ReleaseMeta, files map[string]entities.Digests) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	archs := append([]string(nil), meta.Architectures...)
	sort.Strings(archs)

	var buf bytes.Buffer
	writeOptional := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&buf, "%s: %s\n", key, value)
		}
	}
	writeOptional("Origin", meta.Origin)
	writeOptional("Label", meta.Label)
	writeOptional("Suite", meta.Suite)
	writeOptional("Codename", meta.Codename)
	fmt.Fprintf(&buf, "Date: %s\n", meta.Date.UTC().Format(time.RFC1123Z))
	writeOptional("Architectures", strings.Join(archs, " "))
	writeOptional("Description", meta.Description)

	sections := []struct {
		key    string
		digest func(entities.Digests) string
	}{
		{"MD5Sum", func(d entities.Digests) string { return d.MD5 }},
		{"SHA1", func(d entities.Digests) string { return d.SHA1 }},
		{"SHA256", func(d entities.Digests) string { return d.SHA256 }},
		{"SHA512", func(d entities.Digests) string { return d.SHA512 }},
	}
	for _, s := range sections {
		fmt.Fprintf(&buf, "%s:\n", s.key)
		for _, name := range names {
			d := files[name]
			fmt.Fprintf(&buf, " %s %d %s\n", s.digest(d), d.Size, name)
		}
	}
	return buf.Bytes()
}

// CompareDigests checks every recorded field of want against got
func CompareDigests(file string, want, got entities.Digests) error {
	checks := []struct {
		field     string
		want, got string
	}{
		{"Size", strconv.FormatInt(want.Size, 10), strconv.FormatInt(got.Size, 10)},
		{"MD5sum", want.MD5, got.MD5},
		{"SHA1", want.SHA1, got.SHA1},
		{"SHA256", want.SHA256, got.SHA256},
		{"SHA512", want.SHA512, got.SHA512},
	}
	for _, c := range checks {
		if c.want != c.got {
			return &IntegrityError{File: file, Field: c.field, Expected: c.want, Actual: c.got}
		}
	}
	return nil
}
