package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johnwmail/nshare/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements PasteStore and UploadStore using MongoDB
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
	pastes   *mongo.Collection
	sessions *mongo.Collection
	chunks   *mongo.Collection
}

type pasteDoc struct {
	Code          string        `bson:"_id"`
	Content       string        `bson:"content"`
	CreatedAt     int64         `bson:"created_at"`
	ExpiresAt     int64         `bson:"expires_at"`
	ExpireAt      time.Time     `bson:"expire_at"`
	FileName      string        `bson:"file_name,omitempty"`
	FileType      string        `bson:"file_type,omitempty"`
	IsFile        bool          `bson:"is_file"`
	Files         []models.File `bson:"files,omitempty"`
	IsMultiFile   bool          `bson:"is_multi_file"`
	AllowEditing  bool          `bson:"allow_editing"`
	DownloadCount int64         `bson:"download_count"`
}

type sessionDoc struct {
	UploadID    string    `bson:"_id"`
	FileName    string    `bson:"file_name"`
	FileType    string    `bson:"file_type"`
	TotalSize   int64     `bson:"total_size"`
	TotalChunks int       `bson:"total_chunks"`
	CreatedAt   int64     `bson:"created_at"`
	ExpiresAt   int64     `bson:"expires_at"`
	ExpireAt    time.Time `bson:"expire_at"`
}

type chunkDoc struct {
	ID       string    `bson:"_id"`
	UploadID string    `bson:"upload_id"`
	Index    int       `bson:"index"`
	Data     string    `bson:"data"`
	ExpireAt time.Time `bson:"expire_at"`
}

// NewMongoStore creates a new MongoDB storage backend
func NewMongoStore(ctx context.Context, url, dbName string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Test the connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	database := client.Database(dbName)
	store := &MongoStore{
		client:   client,
		database: database,
		pastes:   database.Collection("pastes"),
		sessions: database.Collection("upload_sessions"),
		chunks:   database.Collection("upload_chunks"),
	}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return store, nil
}

// createIndexes creates TTL indexes so the server reaps expired documents
func (m *MongoStore) createIndexes(ctx context.Context) error {
	ttl := func() mongo.IndexModel {
		return mongo.IndexModel{
			Keys:    bson.D{{Key: "expire_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		}
	}

	if _, err := m.pastes.Indexes().CreateOne(ctx, ttl()); err != nil {
		return fmt.Errorf("failed to create paste TTL index: %w", err)
	}
	if _, err := m.sessions.Indexes().CreateOne(ctx, ttl()); err != nil {
		return fmt.Errorf("failed to create session TTL index: %w", err)
	}
	_, err := m.chunks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		ttl(),
		{Keys: bson.D{{Key: "upload_id", Value: 1}, {Key: "index", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create chunk indexes: %w", err)
	}
	return nil
}

// Create saves a paste unless its code is already present
func (m *MongoStore) Create(ctx context.Context, paste *models.Paste) error {
	doc := pasteDoc{
		Code:          paste.Code,
		Content:       paste.Content,
		CreatedAt:     paste.CreatedAt,
		ExpiresAt:     paste.ExpiresAt,
		ExpireAt:      time.UnixMilli(paste.ExpiresAt),
		FileName:      paste.FileName,
		FileType:      paste.FileType,
		IsFile:        paste.IsFile,
		Files:         paste.Files,
		IsMultiFile:   paste.IsMultiFile,
		AllowEditing:  paste.AllowEditing,
		DownloadCount: paste.DownloadCount,
	}
	if _, err := m.pastes.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrCodeTaken
		}
		return fmt.Errorf("mongodb create paste %s: %w", paste.Code, err)
	}
	return nil
}

// Get retrieves a paste by its code
func (m *MongoStore) Get(ctx context.Context, code string) (*models.Paste, error) {
	var doc pasteDoc
	err := m.pastes.FindOne(ctx, bson.M{"_id": code}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get paste %s: %w", code, err)
	}
	return doc.toPaste(), nil
}

// UpdateContent overwrites the content of a paste
func (m *MongoStore) UpdateContent(ctx context.Context, code, content string) error {
	res, err := m.pastes.UpdateOne(ctx, bson.M{"_id": code}, bson.M{"$set": bson.M{"content": content}})
	if err != nil {
		return fmt.Errorf("mongodb update paste %s: %w", code, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementDownloadCount increments the download count for a paste
func (m *MongoStore) IncrementDownloadCount(ctx context.Context, code string) (int64, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc pasteDoc
	err := m.pastes.FindOneAndUpdate(
		ctx,
		bson.M{"_id": code},
		bson.M{"$inc": bson.M{"download_count": 1}},
		opts,
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("mongodb increment paste %s: %w", code, err)
	}
	return doc.DownloadCount, nil
}

// Delete removes a paste from MongoDB
func (m *MongoStore) Delete(ctx context.Context, code string) error {
	_, err := m.pastes.DeleteOne(ctx, bson.M{"_id": code})
	return err
}

// Sweep removes expired pastes the TTL monitor has not reached yet
func (m *MongoStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := m.pastes.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": now.UnixMilli()}})
	if err != nil {
		return 0, fmt.Errorf("mongodb sweep pastes: %w", err)
	}
	return int(res.DeletedCount), nil
}

// CreateSession saves an upload session unless its id is already present
func (m *MongoStore) CreateSession(ctx context.Context, session *models.UploadSession) error {
	doc := sessionDoc{
		UploadID:    session.UploadID,
		FileName:    session.FileName,
		FileType:    session.FileType,
		TotalSize:   session.TotalSize,
		TotalChunks: session.TotalChunks,
		CreatedAt:   session.CreatedAt,
		ExpiresAt:   session.ExpiresAt,
		ExpireAt:    time.UnixMilli(session.ExpiresAt),
	}
	if _, err := m.sessions.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrCodeTaken
		}
		return fmt.Errorf("mongodb create upload %s: %w", session.UploadID, err)
	}
	return nil
}

func (m *MongoStore) findSession(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	var doc sessionDoc
	if err := m.sessions.FindOne(ctx, bson.M{"_id": uploadID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get upload %s: %w", uploadID, err)
	}
	return &models.UploadSession{
		UploadID:    doc.UploadID,
		FileName:    doc.FileName,
		FileType:    doc.FileType,
		TotalSize:   doc.TotalSize,
		TotalChunks: doc.TotalChunks,
		CreatedAt:   doc.CreatedAt,
		ExpiresAt:   doc.ExpiresAt,
	}, nil
}

// GetSession retrieves an upload session and its chunks
func (m *MongoStore) GetSession(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	session, err := m.findSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	cursor, err := m.chunks.Find(ctx, bson.M{"upload_id": uploadID})
	if err != nil {
		return nil, fmt.Errorf("mongodb list chunks %s: %w", uploadID, err)
	}
	var chunks []chunkDoc
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, fmt.Errorf("mongodb decode chunks %s: %w", uploadID, err)
	}

	session.Chunks = make(map[int]string, len(chunks))
	for _, c := range chunks {
		session.Chunks[c.Index] = c.Data
	}
	session.UploadedChunks = len(session.Chunks)
	return session, nil
}

// GetSessionMeta retrieves an upload session and counts its chunks
func (m *MongoStore) GetSessionMeta(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	session, err := m.findSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	count, err := m.chunks.CountDocuments(ctx, bson.M{"upload_id": uploadID})
	if err != nil {
		return nil, fmt.Errorf("mongodb count chunks %s: %w", uploadID, err)
	}
	session.UploadedChunks = int(count)
	return session, nil
}

// PutChunk upserts one chunk and returns the distinct chunk count
func (m *MongoStore) PutChunk(ctx context.Context, uploadID string, index int, data string) (int, error) {
	var session sessionDoc
	if err := m.sessions.FindOne(ctx, bson.M{"_id": uploadID}).Decode(&session); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("mongodb get upload %s: %w", uploadID, err)
	}

	doc := chunkDoc{
		ID:       fmt.Sprintf("%s:%d", uploadID, index),
		UploadID: uploadID,
		Index:    index,
		Data:     data,
		ExpireAt: session.ExpireAt,
	}
	_, err := m.chunks.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return 0, fmt.Errorf("mongodb put chunk %s[%d]: %w", uploadID, index, err)
	}

	count, err := m.chunks.CountDocuments(ctx, bson.M{"upload_id": uploadID})
	if err != nil {
		return 0, fmt.Errorf("mongodb count chunks %s: %w", uploadID, err)
	}
	return int(count), nil
}

// DeleteSession removes an upload session and its chunks
func (m *MongoStore) DeleteSession(ctx context.Context, uploadID string) error {
	if _, err := m.chunks.DeleteMany(ctx, bson.M{"upload_id": uploadID}); err != nil {
		return fmt.Errorf("mongodb delete chunks %s: %w", uploadID, err)
	}
	_, err := m.sessions.DeleteOne(ctx, bson.M{"_id": uploadID})
	return err
}

// SweepSessions removes expired sessions and their chunks
func (m *MongoStore) SweepSessions(ctx context.Context, now time.Time) (int, error) {
	filter := bson.M{"expires_at": bson.M{"$lt": now.UnixMilli()}}
	cursor, err := m.sessions.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("mongodb list expired uploads: %w", err)
	}
	var expired []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &expired); err != nil {
		return 0, fmt.Errorf("mongodb decode expired uploads: %w", err)
	}

	removed := 0
	for _, s := range expired {
		if err := m.DeleteSession(ctx, s.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Close closes the MongoDB connection
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return m.client.Disconnect(ctx)
}

func (d *pasteDoc) toPaste() *models.Paste {
	return &models.Paste{
		Code:          d.Code,
		Content:       d.Content,
		CreatedAt:     d.CreatedAt,
		ExpiresAt:     d.ExpiresAt,
		FileName:      d.FileName,
		FileType:      d.FileType,
		IsFile:        d.IsFile,
		Files:         d.Files,
		IsMultiFile:   d.IsMultiFile,
		AllowEditing:  d.AllowEditing,
		DownloadCount: d.DownloadCount,
	}
}
