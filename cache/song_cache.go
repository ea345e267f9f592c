package cache

import (
	"context"
	"fmt"
	"time"

	"QShareFM/logger"
)

// 歌曲音频缓存键格式：song:{backend}:{songId}:audio
const songAudioKeyFormat = "song:%s:%s:audio"

// 预取完成的音频在 Redis 中保留的时长
const songAudioTTL = 6 * time.Hour

// SongAudioKey 构造歌曲音频的缓存键
func SongAudioKey(backend, songID string) string {
	return fmt.Sprintf(songAudioKeyFormat, backend, songID)
}

// SetSongAudio 缓存预取完成的歌曲音频
// Redis 未连接时返回错误，调用方按降级处理
func SetSongAudio(backend, songID string, data []byte) error {
	if RedisClient == nil {
		return fmt.Errorf("redis client not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := SongAudioKey(backend, songID)
	err := RedisClient.Set(ctx, key, data, songAudioTTL).Err()
	if err != nil {
		logger.Error("设置歌曲音频缓存失败",
			logger.String("key", key),
			logger.Int("dataSize", len(data)),
			logger.ErrorField(err))
		return err
	}

	logger.Debug("歌曲音频缓存设置成功",
		logger.String("key", key),
		logger.Int("dataSize", len(data)))

	return nil
}

// GetSongAudio 获取缓存的歌曲音频
// 缓存未命中、Redis 未连接或短暂不可用时都返回 nil, nil，
// 调用方继续走对象存储
func GetSongAudio(backend, songID string) ([]byte, error) {
	if RedisClient == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := SongAudioKey(backend, songID)

	// 最多重试2次
	maxRetries := 2
	retryDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		data, err := RedisClient.Get(ctx, key).Bytes()
		if err != nil {
			if err.Error() == "redis: nil" {
				logger.Debug("歌曲音频缓存不存在", logger.String("key", key))
				return nil, nil
			}

			if attempt < maxRetries-1 {
				logger.Warn("获取歌曲音频缓存失败，准备重试",
					logger.String("key", key),
					logger.Int("attempt", attempt+1),
					logger.ErrorField(err))

				time.Sleep(retryDelay)
				retryDelay *= 2 // 指数退避
				continue
			}

			logger.Error("获取歌曲音频缓存最终失败，将尝试从MinIO获取",
				logger.String("key", key),
				logger.Int("totalAttempts", maxRetries),
				logger.ErrorField(err))
			return nil, nil
		}

		logger.Debug("歌曲音频缓存命中",
			logger.String("key", key),
			logger.Int("dataSize", len(data)))

		return data, nil
	}

	return nil, nil
}

// DeleteSongAudio 删除单首歌曲的音频缓存
func DeleteSongAudio(backend, songID string) error {
	if RedisClient == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := SongAudioKey(backend, songID)
	err := RedisClient.Del(ctx, key).Err()
	if err != nil {
		logger.Error("删除歌曲音频缓存失败",
			logger.String("key", key),
			logger.ErrorField(err))
		return err
	}

	logger.Debug("歌曲音频缓存删除成功", logger.String("key", key))
	return nil
}

// FlushSongAudio 批量删除某个后端的全部音频缓存
// forceUpdate 重载插件/后端时调用，保证重新抓取
func FlushSongAudio(backend string) error {
	if RedisClient == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pattern := fmt.Sprintf(songAudioKeyFormat, backend, "*")
	keys, err := RedisClient.Keys(ctx, pattern).Result()
	if err != nil {
		logger.Error("查找音频缓存键失败",
			logger.String("pattern", pattern),
			logger.ErrorField(err))
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	err = RedisClient.Del(ctx, keys...).Err()
	if err != nil {
		logger.Error("批量删除音频缓存失败",
			logger.String("pattern", pattern),
			logger.Int("keyCount", len(keys)),
			logger.ErrorField(err))
		return err
	}

	logger.Info("音频缓存已清空",
		logger.String("backend", backend),
		logger.Int("keyCount", len(keys)))
	return nil
}
