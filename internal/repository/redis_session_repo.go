package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/approvalportal/internal/model"
)

// redisKeyPrefix はセッションキーの接頭辞。
const redisKeyPrefix = "approvalportal:session:"

// redisSessionRecord はRedisに保存するセッションの値。
type redisSessionRecord struct {
	Subject   string    `json:"subject"`
	Data      []byte    `json:"data"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRedisClient はREDIS_URLからクライアントを生成し、接続を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// 有効期限はキーのTTLで管理するため、期限切れの削除はRedisに任せる。
type RedisSessionRepo struct {
	client redis.Cmdable
	sealer TokenSealer
	now    func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client redis.Cmdable, sealer TokenSealer) *RedisSessionRepo {
	return &RedisSessionRepo{client: client, sealer: sealer, now: time.Now}
}

func redisSessionKey(id string) string {
	return redisKeyPrefix + id
}

// encode はセッションをRedisに保存する値とTTLに変換する。
// 有効期限を過ぎている場合はttlが0以下になる。
func (r *RedisSessionRepo) encode(session *model.Session) ([]byte, time.Duration, error) {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil, ttl, nil
	}
	data, err := sealTokens(r.sealer, session)
	if err != nil {
		return nil, 0, err
	}
	value, err := json.Marshal(redisSessionRecord{
		Subject:   session.Subject,
		Data:      data,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode session record: %w", err)
	}
	return value, ttl, nil
}

// Create はセッションを作成する。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	value, ttl, err := r.encode(session)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return r.DeleteByID(ctx, session.ID)
	}
	if err := r.client.Set(ctx, redisSessionKey(session.ID), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。キーが存在しない場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	raw, err := r.client.Get(ctx, redisSessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var rec redisSessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	if !rec.ExpiresAt.After(r.now()) {
		return nil, nil
	}

	session := &model.Session{
		ID:        id,
		Subject:   rec.Subject,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
	}
	if err := openTokens(r.sealer, session, rec.Data); err != nil {
		return nil, err
	}
	return session, nil
}

// Update は既存のセッションを上書きし、TTLを有効期限に合わせ直す。
// キーが存在しない場合（サインアウト済み・失効済み）は何もしない。
func (r *RedisSessionRepo) Update(ctx context.Context, session *model.Session) error {
	value, ttl, err := r.encode(session)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return r.DeleteByID(ctx, session.ID)
	}
	err = r.client.SetXX(ctx, redisSessionKey(session.ID), value, ttl).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisSessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired はTTLで失効するため常に0を返す。
func (r *RedisSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
