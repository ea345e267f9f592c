package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"QShareFM/config"
)

func newTestLocalBackend(t *testing.T, files map[string][]byte) *LocalBackend {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	b, err := NewLocalBackend(&config.Config{LocalMusicDir: dir})
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestLocalBackendScanAndSearch(t *testing.T) {
	b := newTestLocalBackend(t, map[string][]byte{
		"Queen - Bohemian Rhapsody.mp3": []byte("audio"),
		"Daft Punk - One More Time.mp3": []byte("audio"),
		"notes.txt":                     []byte("not audio"),
	})

	songs, err := b.Search(context.Background(), "queen", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(songs) != 1 {
		t.Fatalf("found %d songs, want 1", len(songs))
	}
	if songs[0].Title != "Bohemian Rhapsody" || songs[0].Artist != "Queen" {
		t.Errorf("parsed %q / %q, want title and artist from the file name",
			songs[0].Title, songs[0].Artist)
	}

	all, err := b.Search(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("empty query matched %d songs, want 2 (non-audio files skipped)", len(all))
	}
}

func TestLocalBackendSearchLimit(t *testing.T) {
	b := newTestLocalBackend(t, map[string][]byte{
		"a.mp3": []byte("audio"),
		"b.mp3": []byte("audio"),
		"c.mp3": []byte("audio"),
	})

	songs, err := b.Search(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(songs) != 2 {
		t.Errorf("limit not applied, got %d songs", len(songs))
	}
}

func TestLocalBackendPrepareStreamsFile(t *testing.T) {
	payload := make([]byte, localFetchChunkSize+100)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	b := newTestLocalBackend(t, map[string][]byte{"track.mp3": payload})

	songs, err := b.Search(context.Background(), "track", 1)
	if err != nil || len(songs) != 1 {
		t.Fatalf("Search: %v (%d songs)", err, len(songs))
	}

	type event struct {
		chunk    int64
		complete bool
		err      error
	}
	events := make(chan event, 16)
	b.Prepare(songs[0], func(chunk int64, complete bool, err error) {
		events <- event{chunk, complete, err}
	})

	var total int64
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.err != nil {
				t.Fatalf("unexpected prepare error: %v", ev.err)
			}
			total += ev.chunk
			if ev.complete {
				if total != int64(len(payload)) {
					t.Errorf("streamed %d bytes, want %d", total, len(payload))
				}
				b.ReleasePrepared(songs[0].ID)
				return
			}
		case <-deadline:
			t.Fatal("prepare did not complete in time")
		}
	}
}

func TestLocalBackendPrepareCancel(t *testing.T) {
	b := newTestLocalBackend(t, map[string][]byte{"track.mp3": []byte("audio")})

	songs, err := b.Search(context.Background(), "track", 1)
	if err != nil || len(songs) != 1 {
		t.Fatalf("Search: %v (%d songs)", err, len(songs))
	}

	// 让文件消失，使抓取协程只能以错误终止
	b.mu.Lock()
	track := b.tracks[songs[0].ID]
	track.path = filepath.Join(b.dir, "missing.mp3")
	b.tracks[songs[0].ID] = track
	b.mu.Unlock()

	done := make(chan error, 1)
	b.Prepare(songs[0], func(chunk int64, complete bool, err error) {
		if err != nil || complete {
			done <- err
		}
	})

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error for a missing file")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prepare did not terminate")
	}
}

func TestLocalBackendPrepareReportsCancelReason(t *testing.T) {
	payload := make([]byte, 8*localFetchChunkSize)
	b := newTestLocalBackend(t, map[string][]byte{"track.mp3": payload})

	songs, err := b.Search(context.Background(), "track", 1)
	if err != nil || len(songs) != 1 {
		t.Fatalf("Search: %v (%d songs)", err, len(songs))
	}

	reason := errors.New("listener skipped")
	done := make(chan error, 1)
	cancel := b.Prepare(songs[0], func(chunk int64, complete bool, err error) {
		if err != nil {
			done <- err
		}
		if complete {
			done <- nil
		}
	})
	cancel(reason)

	select {
	case err := <-done:
		// 取消与读完存在竞争，要么上报取消原因，要么在取消生效前读完
		if err != nil && !errors.Is(err, reason) && !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected terminal error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prepare did not terminate after cancel")
	}
}
