package models

import (
	"errors"
	"fmt"
	"strings"
)

// Platform identifies a content platform
type Platform string

const (
	PlatformReddit        Platform = "reddit"
	PlatformHackerNews    Platform = "hackernews"
	PlatformTwitter       Platform = "twitter"
	PlatformLinkedIn      Platform = "linkedin"
	PlatformYouTube       Platform = "youtube"
	PlatformStackOverflow Platform = "stackoverflow"
	PlatformAll           Platform = "all" // keyword wildcard, never a mention platform
)

// CaseSensitivity selects how letter case is compared
type CaseSensitivity string

const (
	CaseInsensitive CaseSensitivity = "case_insensitive"
	CaseSensitive   CaseSensitivity = "case_sensitive"
	// SmartCase is case-sensitive only when the pattern contains an uppercase letter
	SmartCase CaseSensitivity = "smart_case"
)

// MatchMode is the string comparison strategy
type MatchMode string

const (
	MatchExact        MatchMode = "exact"
	MatchContains     MatchMode = "contains"
	MatchWordBoundary MatchMode = "word_boundary"
	MatchStartsWith   MatchMode = "starts_with"
	MatchEndsWith     MatchMode = "ends_with"
)

// ContentType is the part of an item a keyword monitors
type ContentType string

const (
	ContentTitles   ContentType = "titles"
	ContentBody     ContentType = "body"
	ContentComments ContentType = "comments"
)

// ContentTypeOrder is the order content types are evaluated in for an item
var ContentTypeOrder = []ContentType{ContentTitles, ContentBody, ContentComments}

// MentionContentType records where in an item the match happened
type MentionContentType string

const (
	MentionPost    MentionContentType = "post"
	MentionComment MentionContentType = "comment"
	MentionTitle   MentionContentType = "title"
	MentionBody    MentionContentType = "body"
)

// MentionType maps a monitored content type to the mention content type
func MentionType(ct ContentType) MentionContentType {
	switch ct {
	case ContentBody:
		return MentionBody
	case ContentComments:
		return MentionComment
	default:
		return MentionTitle
	}
}

var allContent = []ContentType{ContentTitles, ContentBody, ContentComments}

// SupportedContentTypes lists the content types each platform can offer
var SupportedContentTypes = map[Platform][]ContentType{
	PlatformReddit:        allContent,
	PlatformHackerNews:    allContent,
	PlatformTwitter:       allContent,
	PlatformLinkedIn:      allContent,
	PlatformYouTube:       {ContentTitles, ContentBody},
	PlatformStackOverflow: allContent,
	PlatformAll:           allContent,
}

// ErrInvalidKeyword wraps every keyword validation failure
var ErrInvalidKeyword = errors.New("invalid keyword")

// ParsePlatform normalizes a platform name
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := SupportedContentTypes[p]; !ok {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// DefaultContentTypes returns the content types monitored when a keyword names none
func DefaultContentTypes(p Platform) []ContentType {
	supported, ok := SupportedContentTypes[p]
	if !ok {
		return nil
	}
	out := make([]ContentType, len(supported))
	copy(out, supported)
	return out
}

// Validate checks the keyword's enum fields and content-type subset
func (k Keyword) Validate() error {
	if strings.TrimSpace(k.Text) == "" {
		return fmt.Errorf("%w: empty keyword text", ErrInvalidKeyword)
	}
	supported, ok := SupportedContentTypes[k.Platform]
	if !ok {
		return fmt.Errorf("%w: unknown platform %q", ErrInvalidKeyword, k.Platform)
	}

	switch k.MatchMode {
	case "", MatchExact, MatchContains, MatchWordBoundary, MatchStartsWith, MatchEndsWith:
	default:
		return fmt.Errorf("%w: unknown match mode %q", ErrInvalidKeyword, k.MatchMode)
	}

	switch k.CaseMode {
	case "", CaseInsensitive, CaseSensitive, SmartCase:
	default:
		return fmt.Errorf("%w: unknown case mode %q", ErrInvalidKeyword, k.CaseMode)
	}

	if len(k.ContentTypes) == 0 {
		return fmt.Errorf("%w: no content types", ErrInvalidKeyword)
	}
	for _, ct := range k.ContentTypes {
		if !containsContentType(supported, ct) {
			return fmt.Errorf("%w: content type %q not supported on %s", ErrInvalidKeyword, ct, k.Platform)
		}
	}
	return nil
}

func containsContentType(list []ContentType, ct ContentType) bool {
	for _, c := range list {
		if c == ct {
			return true
		}
	}
	return false
}
