package plugin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"QShareFM/config"
	"QShareFM/core/player"
)

type stubBackend struct{}

func (stubBackend) Name() string { return "stub" }

func (stubBackend) Search(ctx context.Context, query string, limit int) ([]*player.Song, error) {
	return nil, nil
}

func (stubBackend) Prepare(song *player.Song, progress player.ProgressFunc) player.CancelFunc {
	return func(error) {}
}

func (stubBackend) ReleasePrepared(songID string) {}
func (stubBackend) DiscardPrepared(songID string) {}

func newPlayingPlayer(t *testing.T, songs int) (*player.Player, []*player.Song) {
	t.Helper()
	p := player.New(&config.Config{
		SongPrepareTimeout: time.Second,
		SearchResultLimit:  20,
	}, nil)

	queued := make([]*player.Song, 0, songs)
	for i := 0; i < songs; i++ {
		song := player.NewSong(stubBackend{}, fmt.Sprintf("s%d", i), "song", "artist", "", time.Hour)
		song.MarkPrepared()
		if err := p.AddSong(song, "tester"); err != nil {
			t.Fatalf("AddSong: %v", err)
		}
		queued = append(queued, song)
	}
	if err := p.StartPlayback(0); err != nil {
		t.Fatalf("StartPlayback: %v", err)
	}
	return p, queued
}

func TestVoteSkipThreshold(t *testing.T) {
	p, songs := newPlayingPlayer(t, 2)
	listeners := 4
	v := NewVoteSkipPlugin(p, 0.5, func() int { return listeners })

	// 4 个听众、0.5 比例，需要 2 票
	votes, required, err := v.Vote("alice")
	if err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if votes != 1 || required != 2 {
		t.Errorf("votes=%d required=%d, want 1 and 2", votes, required)
	}
	if p.NowPlaying() != songs[0] {
		t.Error("one vote must not skip the song")
	}

	if _, _, err := v.Vote("bob"); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if p.NowPlaying() != songs[1] {
		t.Error("reaching the threshold should skip to the next song")
	}
}

func TestVoteSkipRejectsDuplicateVotes(t *testing.T) {
	p, _ := newPlayingPlayer(t, 2)
	v := NewVoteSkipPlugin(p, 0.5, func() int { return 10 })

	if _, _, err := v.Vote("alice"); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	votes, _, err := v.Vote("alice")
	if !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
	if votes != 1 {
		t.Errorf("duplicate vote counted, votes=%d", votes)
	}
}

func TestVoteSkipResetsOnSongChange(t *testing.T) {
	p, songs := newPlayingPlayer(t, 3)
	v := NewVoteSkipPlugin(p, 0.5, func() int { return 4 })

	if _, _, err := v.Vote("alice"); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	// 外部切歌，票池清空
	hooks := v.Hooks()
	if err := hooks[player.HookOnSongChange](songs[1]); err != nil {
		t.Fatalf("onSongChange: %v", err)
	}

	votes, _, err := v.Vote("alice")
	if err != nil {
		t.Fatalf("Vote after reset: %v", err)
	}
	if votes != 1 {
		t.Errorf("votes=%d after reset, want 1", votes)
	}
}

func TestVoteSkipRequiresCurrentSong(t *testing.T) {
	p := player.New(&config.Config{SongPrepareTimeout: time.Second}, nil)
	v := NewVoteSkipPlugin(p, 0.5, func() int { return 1 })

	if _, _, err := v.Vote("alice"); err == nil {
		t.Error("voting with nothing playing should fail")
	}
}
