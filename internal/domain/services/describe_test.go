package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/reposync/internal/domain/entities"
)

func TestBuildStatusPage(t *testing.T) {
	products := map[string]*entities.Product{
		"tool":  {ID: "tool", Name: "Tool", Description: "A tool."},
		"other": {ID: "other"},
		"empty": {ID: "empty"},
	}
	assets := map[string]entities.Asset{
		"tool_1.10_amd64.deb": {Name: "tool_1.10_amd64.deb", URL: "https://example.com/tool_1.10_amd64.deb", Size: 42},
	}
	now := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)

	page, err := BuildStatusPage("Packages", products, newTestCatalog(), assets, now)
	require.NoError(t, err)

	require.Len(t, page.Products, 3)
	assert.Equal(t, "empty", page.Products[0].ID)
	assert.Empty(t, page.Products[0].Channels)

	other := page.Products[1]
	assert.Equal(t, "other", other.Name)
	require.Len(t, other.Channels, 1)
	assert.Equal(t, "3.1", other.Channels[0].Version)

	tool := page.Products[2]
	require.Len(t, tool.Channels, 2)
	assert.Equal(t, ChannelStatus{
		Channel: "release",
		Version: "1.10",
		Files: []StatusFile{{
			Name:         "tool_1.10_amd64.deb",
			Architecture: "amd64",
			URL:          "https://example.com/tool_1.10_amd64.deb",
			Size:         42,
			Published:    true,
		}},
	}, tool.Channels[0])
	assert.Equal(t, "beta", tool.Channels[1].Channel)
	assert.Equal(t, "20260102", tool.Channels[1].Version)
	assert.False(t, tool.Channels[1].Files[0].Published)
}

func TestRenderStatusPage(t *testing.T) {
	page := StatusPage{
		Title:     "Packages",
		Generated: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
		Products: []ProductStatus{{
			ID:          "tool",
			Name:        "Tool",
			Description: "A tool.",
			Channels: []ChannelStatus{{
				Channel: "release",
				Version: "1.0",
				Files: []StatusFile{
					{Name: "tool_1.0_amd64.deb", Architecture: "amd64", URL: "https://x/tool_1.0_amd64.deb", Published: true},
					{Name: "tool_1.0_i386.deb", Architecture: "i386"},
				},
			}},
		}},
	}

	out, err := RenderStatusPage(page)
	require.NoError(t, err)

	assert.Contains(t, out, "# Packages\n")
	assert.Contains(t, out, "Generated 2026-01-02 03:04 UTC.")
	assert.Contains(t, out, "## Tool\n")
	assert.Contains(t, out, "A tool.")
	assert.Contains(t, out, "| release | 1.0 | amd64 | [tool_1.0_amd64.deb](https://x/tool_1.0_amd64.deb) |")
	assert.Contains(t, out, "| release | 1.0 | i386 | tool_1.0_i386.deb (pending) |")
}
