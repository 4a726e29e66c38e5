package store

import (
	"context"
	"fmt"
	"time"

	"snowbridge/internal/models"
	"snowbridge/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore MongoDB文档存储封装
// 所有方法捕获驱动错误并降级为空值/零值/false，不向调用方抛出
// 调用方需注意：空结果可能是"无匹配"也可能是"操作失败"，需结合日志判断
type MongoStore struct {
	config    *Config
	client    *mongo.Client
	db        *mongo.Database
	prefix    string
	connected bool
}

// Config MongoDB配置
type Config struct {
	URI              string
	Database         string
	CollectionPrefix string
	MaxRetries       int
	RetryDelay       time.Duration
}

// NewMongoStore 创建存储实例（不建立连接）
func NewMongoStore(config *Config) *MongoStore {
	return &MongoStore{
		config: config,
		prefix: config.CollectionPrefix,
	}
}

// Connect 建立连接，带有界重试
// 重试耗尽后存储保持未连接状态，所有操作降级返回而不是使进程崩溃
func (s *MongoStore) Connect(ctx context.Context) error {
	log := logger.GetLogger()
	config := s.config

	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = client.Ping(pingCtx, nil)
			cancel()
			if err == nil {
				s.client = client
				s.db = client.Database(config.Database)
				s.connected = true
				log.Infof("MongoDB连接成功: %s", config.Database)
				return nil
			}
			_ = client.Disconnect(ctx)
		}

		lastErr = err
		log.WithError(err).Warnf("MongoDB连接失败（第 %d/%d 次）", attempt, maxRetries)
		if attempt < maxRetries {
			time.Sleep(config.RetryDelay)
		}
	}

	log.WithError(lastErr).Error("MongoDB连接重试耗尽，存储进入降级模式")
	return fmt.Errorf("MongoDB连接失败: %v", lastErr)
}

// Close 关闭连接
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	s.connected = false
	return s.client.Disconnect(ctx)
}

// IsConnected 检查是否已连接
func (s *MongoStore) IsConnected() bool {
	return s.connected
}

// HealthCheck 检查存储是否可用
func (s *MongoStore) HealthCheck(ctx context.Context) bool {
	if !s.connected || s.client == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx, nil) == nil
}

// EnsureIndexes 为各表集合创建sys_id唯一索引和sys_updated_on索引
func (s *MongoStore) EnsureIndexes(ctx context.Context, tables []string) {
	if !s.connected {
		return
	}

	log := logger.GetLogger()
	for _, table := range tables {
		coll := s.collection(table)
		_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "sys_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "sys_updated_on", Value: -1}},
			},
		})
		if err != nil {
			log.WithError(err).Warnf("创建索引失败: %s", table)
		}
	}
}

// ========== 单条CRUD ==========

// FindOne 查询单条记录
func (s *MongoStore) FindOne(ctx context.Context, table string, filter bson.M) (models.Record, bool) {
	if !s.connected {
		return nil, false
	}

	var record models.Record
	err := s.collection(table).FindOne(ctx, filter).Decode(&record)
	if err != nil {
		if err != mongo.ErrNoDocuments {
			logger.GetLogger().WithError(err).Errorf("FindOne失败: %s", table)
		}
		return nil, false
	}
	return record, true
}

// Find 查询多条记录
func (s *MongoStore) Find(ctx context.Context, table string, filter bson.M, opts ...*options.FindOptions) []models.Record {
	if !s.connected {
		return nil
	}

	cursor, err := s.collection(table).Find(ctx, filter, opts...)
	if err != nil {
		logger.GetLogger().WithError(err).Errorf("Find失败: %s", table)
		return nil
	}
	defer cursor.Close(ctx)

	var records []models.Record
	if err := cursor.All(ctx, &records); err != nil {
		logger.GetLogger().WithError(err).Errorf("Find解码失败: %s", table)
		return nil
	}
	return records
}

// InsertOne 插入单条记录
func (s *MongoStore) InsertOne(ctx context.Context, table string, doc models.Record) bool {
	if !s.connected {
		return false
	}

	if _, err := s.collection(table).InsertOne(ctx, doc); err != nil {
		logger.GetLogger().WithError(err).Errorf("InsertOne失败: %s", table)
		return false
	}
	return true
}

// UpdateOne 更新单条记录（$set语义）
func (s *MongoStore) UpdateOne(ctx context.Context, table string, filter bson.M, update bson.M) bool {
	if !s.connected {
		return false
	}

	if _, err := s.collection(table).UpdateOne(ctx, filter, bson.M{"$set": update}); err != nil {
		logger.GetLogger().WithError(err).Errorf("UpdateOne失败: %s", table)
		return false
	}
	return true
}

// DeleteOne 删除单条记录
func (s *MongoStore) DeleteOne(ctx context.Context, table string, filter bson.M) bool {
	if !s.connected {
		return false
	}

	if _, err := s.collection(table).DeleteOne(ctx, filter); err != nil {
		logger.GetLogger().WithError(err).Errorf("DeleteOne失败: %s", table)
		return false
	}
	return true
}

// Upsert 替换插入（replace-with-upsert语义）
func (s *MongoStore) Upsert(ctx context.Context, table string, filter bson.M, doc models.Record) bool {
	if !s.connected {
		return false
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection(table).ReplaceOne(ctx, filter, doc, opts); err != nil {
		logger.GetLogger().WithError(err).Errorf("Upsert失败: %s", table)
		return false
	}
	return true
}

// ========== 批量操作 ==========

// InsertMany 批量插入，返回成功插入的条数
func (s *MongoStore) InsertMany(ctx context.Context, table string, docs []models.Record) int {
	if !s.connected || len(docs) == 0 {
		return 0
	}

	items := make([]interface{}, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc)
	}

	result, err := s.collection(table).InsertMany(ctx, items, options.InsertMany().SetOrdered(false))
	if err != nil {
		logger.GetLogger().WithError(err).Errorf("InsertMany失败: %s", table)
		if result == nil {
			return 0
		}
	}
	return len(result.InsertedIDs)
}

// UpdateMany 批量更新（$set语义），返回修改条数
func (s *MongoStore) UpdateMany(ctx context.Context, table string, filter bson.M, update bson.M) int64 {
	if !s.connected {
		return 0
	}

	result, err := s.collection(table).UpdateMany(ctx, filter, bson.M{"$set": update})
	if err != nil {
		logger.GetLogger().WithError(err).Errorf("UpdateMany失败: %s", table)
		return 0
	}
	return result.ModifiedCount
}

// DeleteMany 批量删除，返回删除条数
func (s *MongoStore) DeleteMany(ctx context.Context, table string, filter bson.M) int64 {
	if !s.connected {
		return 0
	}

	result, err := s.collection(table).DeleteMany(ctx, filter)
	if err != nil {
		logger.GetLogger().WithError(err).Errorf("DeleteMany失败: %s", table)
		return 0
	}
	return result.DeletedCount
}

// ========== 聚合查询 ==========

// Count 统计记录数
func (s *MongoStore) Count(ctx context.Context, table string, filter bson.M) int64 {
	if !s.connected {
		return 0
	}

	count, err := s.collection(table).CountDocuments(ctx, filter)
	if err != nil {
		logger.GetLogger().WithError(err).Errorf("Count失败: %s", table)
		return 0
	}
	return count
}

// Distinct 查询字段去重值
func (s *MongoStore) Distinct(ctx context.Context, table, field string, filter bson.M) []interface{} {
	if !s.connected {
		return nil
	}

	values, err := s.collection(table).Distinct(ctx, field, filter)
	if err != nil {
		logger.GetLogger().WithError(err).Errorf("Distinct失败: %s.%s", table, field)
		return nil
	}
	return values
}

// Aggregate 执行聚合管道
func (s *MongoStore) Aggregate(ctx context.Context, table string, pipeline []bson.M) []models.Record {
	if !s.connected {
		return nil
	}

	cursor, err := s.collection(table).Aggregate(ctx, pipeline)
	if err != nil {
		logger.GetLogger().WithError(err).Errorf("Aggregate失败: %s", table)
		return nil
	}
	defer cursor.Close(ctx)

	var records []models.Record
	if err := cursor.All(ctx, &records); err != nil {
		logger.GetLogger().WithError(err).Errorf("Aggregate解码失败: %s", table)
		return nil
	}
	return records
}

// collection 按表名获取集合
func (s *MongoStore) collection(table string) *mongo.Collection {
	return s.db.Collection(s.prefix + table)
}
