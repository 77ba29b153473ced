package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed describes categories and playlists to create on startup.
//
//	categories:
//	  - name: TV Shows
//	    download_path: /media/tv
//	    use_series_folders: true
//	    playlists:
//	      - name: provider
//	        url: http://example.com/get.php?type=m3u
type Seed struct {
	Categories []SeedCategory `yaml:"categories"`
}

type SeedCategory struct {
	Name             string         `yaml:"name"`
	DownloadPath     string         `yaml:"download_path"`
	UseSeriesFolders bool           `yaml:"use_series_folders"`
	Playlists        []SeedPlaylist `yaml:"playlists"`
}

type SeedPlaylist struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// LoadSeed reads and validates the YAML seed file at path.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	return ParseSeed(data)
}

func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	var errs []error
	for i, c := range seed.Categories {
		if strings.TrimSpace(c.Name) == "" {
			errs = append(errs, fmt.Errorf("categories[%d]: name is required", i))
		}

		for j, p := range c.Playlists {
			if strings.TrimSpace(p.URL) == "" {
				errs = append(errs, fmt.Errorf("categories[%d].playlists[%d]: url is required", i, j))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &seed, nil
}
