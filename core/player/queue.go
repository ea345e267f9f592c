package player

// Queue 有序的播放队列，顺序即播放顺序
// 由 Player 独占持有，并发保护由 Player 的互斥锁提供
type Queue struct {
	songs []*Song
}

// NewQueue 创建空队列
func NewQueue() *Queue {
	return &Queue{}
}

// Songs 返回队列中歌曲的副本切片（歌曲本身为引用）
func (q *Queue) Songs() []*Song {
	songs := make([]*Song, len(q.songs))
	copy(songs, q.songs)
	return songs
}

// Len 队列长度
func (q *Queue) Len() int {
	return len(q.songs)
}

// Add 追加歌曲到队尾
func (q *Queue) Add(song *Song) {
	q.songs = append(q.songs, song)
}

// InsertAt 在指定位置插入歌曲，越界时按队尾处理
func (q *Queue) InsertAt(index int, song *Song) {
	if index < 0 {
		index = 0
	}
	if index >= len(q.songs) {
		q.songs = append(q.songs, song)
		return
	}
	q.songs = append(q.songs[:index], append([]*Song{song}, q.songs[index:]...)...)
}

// FindSong 按 UUID 查找歌曲，未找到返回 nil
func (q *Queue) FindSong(uuid string) *Song {
	for _, song := range q.songs {
		if song.UUID == uuid {
			return song
		}
	}
	return nil
}

// FindSongIndex 按 UUID 查找歌曲位置，未找到返回 -1
func (q *Queue) FindSongIndex(uuid string) int {
	for i, song := range q.songs {
		if song.UUID == uuid {
			return i
		}
	}
	return -1
}

// SongAtIndex 按位置取歌曲，越界返回 nil
func (q *Queue) SongAtIndex(index int) *Song {
	if index < 0 || index >= len(q.songs) {
		return nil
	}
	return q.songs[index]
}

// UUIDAtIndex 按位置取歌曲 UUID，越界返回空串
func (q *Queue) UUIDAtIndex(index int) string {
	if song := q.SongAtIndex(index); song != nil {
		return song.UUID
	}
	return ""
}

// Remove 按 UUID 移除歌曲，返回是否移除成功
func (q *Queue) Remove(uuid string) bool {
	idx := q.FindSongIndex(uuid)
	if idx < 0 {
		return false
	}
	q.songs = append(q.songs[:idx], q.songs[idx+1:]...)
	return true
}
