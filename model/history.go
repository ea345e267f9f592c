package model

import "time"

// PlayHistory 一条播放历史记录
// 歌曲每次自然播完或被切走时写入一条
type PlayHistory struct {
	ID       int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Backend  string    `json:"backend" gorm:"size:32;index"`
	SongID   string    `json:"songId" gorm:"size:64;index"`
	Title    string    `json:"title" gorm:"size:255"`
	Artist   string    `json:"artist" gorm:"size:255"`
	Album    string    `json:"album" gorm:"size:255"`
	Duration float64   `json:"duration"` // 秒
	PlayedAt time.Time `json:"playedAt" gorm:"index"`
}

// TableName 指定表名
func (PlayHistory) TableName() string {
	return "play_history"
}
