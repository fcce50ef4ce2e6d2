package services

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"text/template"
	"time"

	"github.com/ochairo/reposync/internal/domain/entities"
)

// StatusPage is the data behind the rendered repository description
type StatusPage struct {
	Title     string
	Generated time.Time
	Products  []ProductStatus
}

// ProductStatus lists the latest version of each channel of one product
type ProductStatus struct {
	ID          string
	Name        string
	Description string
	Channels    []ChannelStatus
}

// ChannelStatus is the latest published version of one channel
type ChannelStatus struct {
	Channel string
	Version string
	Files   []StatusFile
}

// StatusFile is one package file of a channel's latest version
type StatusFile struct {
	Name         string
	Architecture string
	URL          string
	Size         int64
	Published    bool
}

var statusTemplate = template.Must(template.New("status").Parse(`# {{ .Title }}

Generated {{ .Generated.Format "2006-01-02 15:04 MST" }}.
{{ range .Products }}
## {{ .Name }}
{{ if .Description }}
{{ .Description }}
{{ end }}
| Channel | Version | Architecture | Package |
|---|---|---|---|
{{- $ch := .Channels }}{{ range $ch }}{{ $c := . }}{{ range .Files }}
| {{ $c.Channel }} | {{ $c.Version }} | {{ .Architecture }} | {{ if .URL }}[{{ .Name }}]({{ .URL }}){{ else }}{{ .Name }}{{ end }}{{ if not .Published }} (pending){{ end }} |
{{- end }}{{ end }}
{{ end }}`))

// BuildStatusPage collects the latest release and beta version of every product
// and the published assets of their package files.
func BuildStatusPage(title string, products map[string]*entities.Product, catalog *Catalog, assets map[string]entities.Asset, now time.Time) (StatusPage, error) {
	page := StatusPage{Title: title, Generated: now.UTC()}

	ids := make([]string, 0, len(products))
	for id := range products {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		product := products[id]
		status := ProductStatus{ID: id, Name: product.Name, Description: product.Description}
		if status.Name == "" {
			status.Name = id
		}

		for _, ch := range []struct {
			name string
			beta *bool
		}{{"release", Release}, {"beta", Beta}} {
			latest, err := catalog.Latest(Filter{Product: id, Beta: ch.beta})
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return page, err
			}

			records, err := catalog.Select(Filter{Product: id, Version: latest.VersionString})
			if err != nil {
				return page, err
			}
			channel := ChannelStatus{Channel: ch.name, Version: latest.PackagingVersion()}
			for _, r := range records {
				name := r.PackageFileName()
				asset, published := assets[name]
				channel.Files = append(channel.Files, StatusFile{
					Name:         name,
					Architecture: r.Architecture.PackagingName(),
					URL:          asset.URL,
					Size:         asset.Size,
					Published:    published,
				})
			}
			sort.Slice(channel.Files, func(i, j int) bool { return channel.Files[i].Name < channel.Files[j].Name })
			status.Channels = append(status.Channels, channel)
		}

		page.Products = append(page.Products, status)
	}

	return page, nil
}

// RenderStatusPage renders the page as Markdown
func RenderStatusPage(page StatusPage) (string, error) {
	var buf bytes.Buffer
	if err := statusTemplate.Execute(&buf, page); err != nil {
		return "", fmt.Errorf("failed to render status page: %w", err)
	}
	return buf.String(), nil
}
