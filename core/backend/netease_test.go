package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"QShareFM/config"
)

func neteaseTestBackend(srv *httptest.Server) *NeteaseBackend {
	return NewNeteaseBackend(&config.Config{
		NeteaseAPIURL:     srv.URL,
		SearchResultLimit: 20,
	})
}

func TestNeteaseSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/cloudsearch") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("keywords"); got != "海阔天空" {
			t.Errorf("keywords = %q, want 海阔天空", got)
		}
		w.Write([]byte(`{
			"code": 200,
			"result": {
				"songs": [
					{"id": 347230, "name": "海阔天空", "ar": [{"name": "Beyond"}], "al": {"name": "乐与怒"}, "dt": 326000},
					{"id": 186016, "name": "光辉岁月", "ar": [{"name": "Beyond"}, {"name": "黄家驹"}], "al": {"name": "命运派对"}, "dt": 299000}
				]
			}
		}`))
	}))
	defer srv.Close()

	b := neteaseTestBackend(srv)
	songs, err := b.Search(context.Background(), "海阔天空", 20)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(songs) != 2 {
		t.Fatalf("got %d songs, want 2", len(songs))
	}
	first := songs[0]
	if first.ID != "347230" || first.Title != "海阔天空" || first.Album != "乐与怒" {
		t.Errorf("first song = %+v", first)
	}
	if first.Duration != 326*time.Second {
		t.Errorf("duration = %v, want 326s", first.Duration)
	}
	if songs[1].Artist != "Beyond,黄家驹" {
		t.Errorf("artist = %q, want joined names", songs[1].Artist)
	}
}

func TestNeteaseSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := neteaseTestBackend(srv)
	if _, err := b.Search(context.Background(), "any", 20); err == nil {
		t.Error("non-200 status should fail the search")
	}
}

func TestNeteaseSearchAPIErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 400, "result": {"songs": []}}`))
	}))
	defer srv.Close()

	b := neteaseTestBackend(srv)
	if _, err := b.Search(context.Background(), "any", 20); err == nil {
		t.Error("non-200 business code should fail the search")
	}
}

func TestNeteaseGetPlaylists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/top/playlist") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"code": 200,
			"playlists": [
				{"id": 24381616, "name": "经典粤语", "trackCount": 100}
			]
		}`))
	}))
	defer srv.Close()

	b := neteaseTestBackend(srv)
	playlists, err := b.GetPlaylists(context.Background())
	if err != nil {
		t.Fatalf("GetPlaylists: %v", err)
	}
	if len(playlists) != 1 {
		t.Fatalf("got %d playlists, want 1", len(playlists))
	}
	pl := playlists[0]
	if pl.ID != "24381616" || pl.Name != "经典粤语" || pl.TrackCount != 100 {
		t.Errorf("playlist = %+v", pl)
	}
	if pl.Backend != "netease" {
		t.Errorf("backend = %q, want netease", pl.Backend)
	}
}

func TestNeteaseGetPlaylistsAPIErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 500, "playlists": []}`))
	}))
	defer srv.Close()

	b := neteaseTestBackend(srv)
	if _, err := b.GetPlaylists(context.Background()); err == nil {
		t.Error("non-200 business code should fail the playlist fetch")
	}
}

func TestNeteaseResolveSongURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "347230" {
			t.Errorf("id = %q, want 347230", got)
		}
		if c, err := r.Cookie("os"); err != nil || c.Value != "pc" {
			t.Error("request should carry the os=pc cookie")
		}
		w.Write([]byte(`{"code": 200, "data": [{"id": 347230, "url": "http://m7.music.126.net/track.mp3"}]}`))
	}))
	defer srv.Close()

	b := neteaseTestBackend(srv)
	audioURL, err := b.resolveSongURL(context.Background(), "347230")
	if err != nil {
		t.Fatalf("resolveSongURL: %v", err)
	}
	if audioURL != "http://m7.music.126.net/track.mp3" {
		t.Errorf("url = %q", audioURL)
	}
}

func TestNeteaseResolveSongURLFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"api error code", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code": 404, "msg": "not found", "data": []}`))
		}},
		{"empty url", func(w http.ResponseWriter, r *http.Request) {
			// 版权受限的歌曲返回空地址
			w.Write([]byte(`{"code": 200, "data": [{"id": 1, "url": ""}]}`))
		}},
		{"no data", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code": 200, "data": []}`))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			b := neteaseTestBackend(srv)
			if _, err := b.resolveSongURL(context.Background(), "1"); err == nil {
				t.Error("resolveSongURL should fail")
			}
		})
	}
}
