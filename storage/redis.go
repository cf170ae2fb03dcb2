package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/johnwmail/nshare/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements PasteStore, UploadStore and Locker on Redis.
// Records are hashes whose lifetime is delegated to PEXPIREAT, so expired
// keys disappear without a sweep.
type RedisStore struct {
	client redis.UniversalClient
	prefix string

	lockTTL  time.Duration
	lockWait time.Duration
}

// Insert-if-absent: the hash fields follow ARGV[1] (expiry in epoch ms)
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 2))
redis.call("PEXPIREAT", KEYS[1], ARGV[1])
return 1
`)

var updateContentScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], "content", ARGV[1])
return 1
`)

var incrementScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], "downloadCount", 1)
`)

// Chunks live in a sibling hash that shares the session's expiry
var putChunkScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("PEXPIREAT", KEYS[2], redis.call("HGET", KEYS[1], "expiresAt"))
return redis.call("HLEN", KEYS[2])
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisStore wraps a connected client; prefix namespaces every key
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		lockTTL:  30 * time.Second,
		lockWait: 25 * time.Millisecond,
	}
}

func (r *RedisStore) pasteKey(code string) string {
	return r.prefix + "paste:" + code
}

func (r *RedisStore) sessionKey(id string) string {
	return r.prefix + "upload:" + id
}

func (r *RedisStore) chunksKey(id string) string {
	return r.prefix + "upload:" + id + ":chunks"
}

func (r *RedisStore) lockKey(key string) string {
	return r.prefix + "lock:" + key
}

// Create saves a paste unless its code is already present
func (r *RedisStore) Create(ctx context.Context, paste *models.Paste) error {
	files := ""
	if len(paste.Files) > 0 {
		data, err := json.Marshal(paste.Files)
		if err != nil {
			return fmt.Errorf("failed to marshal files: %w", err)
		}
		files = string(data)
	}

	args := []interface{}{
		paste.ExpiresAt,
		"code", paste.Code,
		"content", paste.Content,
		"createdAt", paste.CreatedAt,
		"expiresAt", paste.ExpiresAt,
		"fileName", paste.FileName,
		"fileType", paste.FileType,
		"isFile", formatBool(paste.IsFile),
		"files", files,
		"isMultiFile", formatBool(paste.IsMultiFile),
		"allowEditing", formatBool(paste.AllowEditing),
		"downloadCount", paste.DownloadCount,
	}

	created, err := createScript.Run(ctx, r.client, []string{r.pasteKey(paste.Code)}, args...).Int64()
	if err != nil {
		return fmt.Errorf("redis create paste %s: %w", paste.Code, err)
	}
	if created == 0 {
		return ErrCodeTaken
	}
	return nil
}

// Get retrieves a paste
func (r *RedisStore) Get(ctx context.Context, code string) (*models.Paste, error) {
	fields, err := r.client.HGetAll(ctx, r.pasteKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get paste %s: %w", code, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return pasteFromHash(fields)
}

// UpdateContent overwrites the content of a paste, keeping its expiry
func (r *RedisStore) UpdateContent(ctx context.Context, code, content string) error {
	updated, err := updateContentScript.Run(ctx, r.client, []string{r.pasteKey(code)}, content).Int64()
	if err != nil {
		return fmt.Errorf("redis update paste %s: %w", code, err)
	}
	if updated == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementDownloadCount bumps the download counter atomically
func (r *RedisStore) IncrementDownloadCount(ctx context.Context, code string) (int64, error) {
	count, err := incrementScript.Run(ctx, r.client, []string{r.pasteKey(code)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment paste %s: %w", code, err)
	}
	if count < 0 {
		return 0, ErrNotFound
	}
	return count, nil
}

// Delete removes a paste
func (r *RedisStore) Delete(ctx context.Context, code string) error {
	return r.client.Del(ctx, r.pasteKey(code)).Err()
}

// Sweep is a no-op; Redis expires keys natively
func (r *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

// CreateSession saves an upload session unless its id is already present
func (r *RedisStore) CreateSession(ctx context.Context, session *models.UploadSession) error {
	args := []interface{}{
		session.ExpiresAt,
		"uploadId", session.UploadID,
		"fileName", session.FileName,
		"fileType", session.FileType,
		"totalSize", session.TotalSize,
		"totalChunks", session.TotalChunks,
		"createdAt", session.CreatedAt,
		"expiresAt", session.ExpiresAt,
	}
	created, err := createScript.Run(ctx, r.client, []string{r.sessionKey(session.UploadID)}, args...).Int64()
	if err != nil {
		return fmt.Errorf("redis create upload %s: %w", session.UploadID, err)
	}
	if created == 0 {
		return ErrCodeTaken
	}
	return nil
}

// GetSession retrieves an upload session with its chunks
func (r *RedisStore) GetSession(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	pipe := r.client.Pipeline()
	metaCmd := pipe.HGetAll(ctx, r.sessionKey(uploadID))
	chunksCmd := pipe.HGetAll(ctx, r.chunksKey(uploadID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis get upload %s: %w", uploadID, err)
	}

	session, err := sessionFromHash(metaCmd.Val())
	if err != nil {
		return nil, err
	}
	session.Chunks = make(map[int]string)
	for field, data := range chunksCmd.Val() {
		idx, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		session.Chunks[idx] = data
	}
	session.UploadedChunks = len(session.Chunks)
	return session, nil
}

// GetSessionMeta retrieves an upload session and counts its chunks without
// transferring them
func (r *RedisStore) GetSessionMeta(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	pipe := r.client.Pipeline()
	metaCmd := pipe.HGetAll(ctx, r.sessionKey(uploadID))
	countCmd := pipe.HLen(ctx, r.chunksKey(uploadID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis get upload %s: %w", uploadID, err)
	}

	session, err := sessionFromHash(metaCmd.Val())
	if err != nil {
		return nil, err
	}
	session.UploadedChunks = int(countCmd.Val())
	return session, nil
}

func sessionFromHash(meta map[string]string) (*models.UploadSession, error) {
	if len(meta) == 0 {
		return nil, ErrNotFound
	}
	return &models.UploadSession{
		UploadID:    meta["uploadId"],
		FileName:    meta["fileName"],
		FileType:    meta["fileType"],
		TotalSize:   parseInt(meta["totalSize"]),
		TotalChunks: int(parseInt(meta["totalChunks"])),
		CreatedAt:   parseInt(meta["createdAt"]),
		ExpiresAt:   parseInt(meta["expiresAt"]),
	}, nil
}

// PutChunk stores one chunk and returns the distinct chunk count
func (r *RedisStore) PutChunk(ctx context.Context, uploadID string, index int, data string) (int, error) {
	keys := []string{r.sessionKey(uploadID), r.chunksKey(uploadID)}
	count, err := putChunkScript.Run(ctx, r.client, keys, index, data).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis put chunk %s[%d]: %w", uploadID, index, err)
	}
	if count < 0 {
		return 0, ErrNotFound
	}
	return int(count), nil
}

// DeleteSession removes an upload session and its chunks
func (r *RedisStore) DeleteSession(ctx context.Context, uploadID string) error {
	return r.client.Del(ctx, r.sessionKey(uploadID), r.chunksKey(uploadID)).Err()
}

// SweepSessions is a no-op; Redis expires keys natively
func (r *RedisStore) SweepSessions(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Lock acquires a SET NX lock holding a random token; only the holder's
// token can release it. The lock is renewed every third of its TTL while
// held, so only a holder that dies lets it lapse.
func (r *RedisStore) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	k := r.lockKey(key)

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.lockWait):
		}
	}

	done := make(chan struct{})
	go r.renewLock(k, token, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			// Release with a fresh context so a cancelled request still unlocks
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = unlockScript.Run(ctx, r.client, []string{k}, token).Err()
		})
	}, nil
}

// renewLock extends the lock until done is closed or the token is gone
func (r *RedisStore) renewLock(k, token string, done <-chan struct{}) {
	interval := r.lockTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			held, err := renewScript.Run(ctx, r.client, []string{k}, token, r.lockTTL.Milliseconds()).Int64()
			cancel()
			if err == nil && held == 0 {
				return
			}
		}
	}
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func pasteFromHash(fields map[string]string) (*models.Paste, error) {
	paste := &models.Paste{
		Code:          fields["code"],
		Content:       fields["content"],
		CreatedAt:     parseInt(fields["createdAt"]),
		ExpiresAt:     parseInt(fields["expiresAt"]),
		FileName:      fields["fileName"],
		FileType:      fields["fileType"],
		IsFile:        fields["isFile"] == "1",
		IsMultiFile:   fields["isMultiFile"] == "1",
		AllowEditing:  fields["allowEditing"] == "1",
		DownloadCount: parseInt(fields["downloadCount"]),
	}
	if files := fields["files"]; files != "" {
		if err := json.Unmarshal([]byte(files), &paste.Files); err != nil {
			return nil, fmt.Errorf("failed to unmarshal files for %s: %w", paste.Code, err)
		}
	}
	return paste, nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
