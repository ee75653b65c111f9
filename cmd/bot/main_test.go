package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/kleio/mentions-monitor/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMentionsHandler(t *testing.T) {
	store := storage.NewMemoryStore()
	for i, url := range []string{"https://x/1", "https://x/2"} {
		_, err := store.Insert(context.Background(), &models.Mention{
			KeywordID:    "kw-1",
			OwnerID:      "alice",
			SourceURL:    url,
			Platform:     models.PlatformHackerNews,
			ContentType:  models.MentionTitle,
			DiscoveredAt: time.Unix(1700000000+int64(i), 0),
		})
		require.NoError(t, err)
	}

	router := mux.NewRouter()
	router.HandleFunc("/mentions", mentionsHandler(store)).Methods("GET")

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantURLs   []string
	}{
		{name: "Newest first", query: "?keyword_id=kw-1", wantStatus: http.StatusOK, wantURLs: []string{"https://x/2", "https://x/1"}},
		{name: "Limit", query: "?keyword_id=kw-1&limit=1", wantStatus: http.StatusOK, wantURLs: []string{"https://x/2"}},
		{name: "Unknown keyword is empty", query: "?keyword_id=kw-9", wantStatus: http.StatusOK, wantURLs: []string{}},
		{name: "Missing keyword", query: "", wantStatus: http.StatusBadRequest},
		{name: "Bad limit", query: "?keyword_id=kw-1&limit=-3", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mentions"+tt.query, nil))

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantURLs == nil {
				return
			}
			var mentions []models.Mention
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mentions))
			urls := make([]string, 0, len(mentions))
			for _, m := range mentions {
				urls = append(urls, m.SourceURL)
			}
			assert.Equal(t, tt.wantURLs, urls)
		})
	}
}
