package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kleio/mentions-monitor/internal/config"
	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/kleio/mentions-monitor/internal/sources"
)

func main() {
	keyword := flag.String("keyword", "golang", "keyword used to derive scopes")
	flag.Parse()

	fmt.Println("Mentions monitor - source connectivity check")
	fmt.Println(strings.Repeat("=", 44))

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	kw := models.Keyword{
		ID:           "check",
		OwnerID:      "check",
		Text:         *keyword,
		Platform:     models.PlatformAll,
		MatchMode:    models.MatchContains,
		ContentTypes: []models.ContentType{models.ContentTitles, models.ContentBody, models.ContentComments},
		Active:       true,
	}

	registry := sources.NewRegistryFromConfig(cfg)
	defer registry.Close()

	failed := 0
	for _, src := range registry.Sources() {
		if !checkSource(ctx, src, kw) {
			failed++
		}
	}

	fmt.Println(strings.Repeat("-", 44))
	if failed > 0 {
		log.Fatalf("%d source(s) failed", failed)
	}
	fmt.Println("All enabled sources reachable")
}

// checkSource primes every scope with an empty cursor, which asks the
// source for its current head without returning items
func checkSource(ctx context.Context, src sources.Source, kw models.Keyword) bool {
	fmt.Printf("- %s (%s)\n", src.GetName(), src.Platform())

	if !src.IsEnabled() {
		fmt.Println("    disabled (missing credentials)")
		return true
	}

	ok := true
	for _, scope := range src.Scopes(kw) {
		label := scope
		if label == "" {
			label = "(global)"
		}

		start := time.Now()
		batch, err := src.FetchSince(ctx, sources.FetchRequest{Scope: scope, Keywords: []models.Keyword{kw}})
		if err != nil {
			fmt.Printf("    %-12s ERROR: %v\n", label, err)
			ok = false
			continue
		}
		fmt.Printf("    %-12s head cursor %q in %s\n", label, batch.Cursor, time.Since(start).Round(time.Millisecond))
	}
	return ok
}
