package plugin

import (
	"testing"
	"time"

	"QShareFM/core/player"
	"QShareFM/model"
)

type fakeHistoryRepo struct {
	records []model.PlayHistory
}

func (r *fakeHistoryRepo) Create(record *model.PlayHistory) error {
	r.records = append(r.records, *record)
	return nil
}

func (r *fakeHistoryRepo) Recent(limit int) ([]model.PlayHistory, error) {
	if limit > len(r.records) {
		limit = len(r.records)
	}
	return r.records[:limit], nil
}

func (r *fakeHistoryRepo) CountByBackend(backend string) (int64, error) {
	var count int64
	for _, rec := range r.records {
		if rec.Backend == backend {
			count++
		}
	}
	return count, nil
}

func TestHistoryPluginRecordsSongEnd(t *testing.T) {
	repo := &fakeHistoryRepo{}
	h := NewHistoryPlugin(repo)

	song := player.NewSong(stubBackend{}, "s1", "title", "artist", "album", 3*time.Minute)
	hooks := h.Hooks()
	if err := hooks[player.HookOnSongEnd](song); err != nil {
		t.Fatalf("onSongEnd: %v", err)
	}

	if len(repo.records) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(repo.records))
	}
	rec := repo.records[0]
	if rec.SongID != "s1" || rec.Backend != "stub" || rec.Title != "title" {
		t.Errorf("record %+v has wrong identity fields", rec)
	}
	if rec.Duration != 180 {
		t.Errorf("duration %v, want 180 seconds", rec.Duration)
	}
	if rec.PlayedAt.IsZero() {
		t.Error("playedAt should be set")
	}
}

func TestHistoryPluginIgnoresBadArgs(t *testing.T) {
	repo := &fakeHistoryRepo{}
	h := NewHistoryPlugin(repo)

	hooks := h.Hooks()
	if err := hooks[player.HookOnSongEnd]("not a song"); err != nil {
		t.Fatalf("onSongEnd with bad args: %v", err)
	}
	if len(repo.records) != 0 {
		t.Error("bad args must not be recorded")
	}
}
