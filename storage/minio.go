package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"QShareFM/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	minioClient *minio.Client
	minioBucket string
)

// InitMinio 初始化 MinIO 客户端
// 预取完成的音频会长期保存在对象存储，Redis 只做热缓存
func InitMinio(cfg *config.Config) error {
	log.Printf("正在连接 MinIO 服务器...")
	log.Printf("Endpoint: %s", cfg.MinioEndpoint)
	log.Printf("Bucket: %s", cfg.MinioBucket)

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 检查存储桶是否存在，不存在则创建
	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		err = client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{
			Region: cfg.MinioRegion,
		})
		if err != nil {
			return fmt.Errorf("创建存储桶失败: %w", err)
		}
		log.Printf("成功创建存储桶: %s", cfg.MinioBucket)
	}

	minioClient = client
	minioBucket = cfg.MinioBucket
	log.Println("MinIO 客户端初始化成功")
	return nil
}

// GetMinioClient 获取 MinIO 客户端实例
func GetMinioClient() *minio.Client {
	return minioClient
}

func audioObjectName(backend, songID string) string {
	return fmt.Sprintf("audio/%s/%s", backend, songID)
}

// UploadSongAudio 上传预取完成的歌曲音频
func UploadSongAudio(ctx context.Context, backend, songID string, data []byte) error {
	if minioClient == nil {
		return fmt.Errorf("MinIO client not initialized")
	}

	objectName := audioObjectName(backend, songID)
	_, err := minioClient.PutObject(ctx, minioBucket, objectName,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: "audio/mpeg",
		})
	if err != nil {
		return fmt.Errorf("上传音频对象失败 %s: %w", objectName, err)
	}
	return nil
}

// FetchSongAudio 从对象存储读取歌曲音频，对象不存在时返回 nil, nil
func FetchSongAudio(ctx context.Context, backend, songID string) ([]byte, error) {
	if minioClient == nil {
		return nil, fmt.Errorf("MinIO client not initialized")
	}

	objectName := audioObjectName(backend, songID)
	object, err := minioClient.GetObject(ctx, minioBucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取音频对象失败 %s: %w", objectName, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("读取音频对象内容失败 %s: %w", objectName, err)
	}
	return data, nil
}

// RemoveSongAudio 删除对象存储中的歌曲音频
func RemoveSongAudio(ctx context.Context, backend, songID string) error {
	if minioClient == nil {
		return fmt.Errorf("MinIO client not initialized")
	}

	objectName := audioObjectName(backend, songID)
	err := minioClient.RemoveObject(ctx, minioBucket, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("删除音频对象失败 %s: %w", objectName, err)
	}
	return nil
}
