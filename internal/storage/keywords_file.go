package storage

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/kleio/mentions-monitor/internal/models"
	"gopkg.in/yaml.v3"
)

const defaultOwner = "default"

type keywordsFile struct {
	Keywords []keywordEntry `yaml:"keywords"`
}

type keywordEntry struct {
	models.Keyword `yaml:",inline"`
	Enabled        *bool `yaml:"enabled"`
}

// LoadKeywordsFile reads seed keywords from a YAML file.
//
//	keywords:
//	  - keyword: kleio
//	    platform: hackernews
//	    match_mode: word_boundary
//	    content_types: [titles, comments]
//
// Missing owners default to "default", missing content types to the platform
// defaults, and missing IDs are derived from owner, platform and text so that
// reloading the file updates rather than duplicates.
func LoadKeywordsFile(path string) ([]models.Keyword, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keywords file: %w", err)
	}

	var file keywordsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse keywords file: %w", err)
	}

	keywords := make([]models.Keyword, 0, len(file.Keywords))
	for i, entry := range file.Keywords {
		kw := entry.Keyword
		if kw.OwnerID == "" {
			kw.OwnerID = defaultOwner
		}
		if kw.Platform == "" {
			kw.Platform = models.PlatformAll
		}
		kw.Platform = models.Platform(strings.ToLower(string(kw.Platform)))
		if kw.MatchMode == "" {
			kw.MatchMode = models.MatchContains
		}
		if len(kw.ContentTypes) == 0 {
			kw.ContentTypes = models.DefaultContentTypes(kw.Platform)
		}
		kw.Active = entry.Enabled == nil || *entry.Enabled
		if kw.ID == "" {
			kw.ID = uuid.NewSHA1(uuid.NameSpaceURL,
				[]byte(kw.OwnerID+"/"+string(kw.Platform)+"/"+kw.Text)).String()
		}

		if err := kw.Validate(); err != nil {
			return nil, fmt.Errorf("keyword #%d (%q): %w", i+1, kw.Text, err)
		}
		keywords = append(keywords, kw)
	}

	return keywords, nil
}
