package config

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Mongo      MongoConfig
	Redis      RedisConfig
	ServiceNow ServiceNowConfig
	Sync       SyncConfig
	JWT        JWTConfig
	Auth       AuthConfig
	CORS       CORSConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type LogConfig struct {
	Level      string
	FilePath   string
	MaxSize    int    // MB
	MaxBackups int    // 保留的备份文件数
	MaxAge     int    // 保留天数
	Compress   bool   // 是否压缩
	Format     string // json 或 text
}

type MongoConfig struct {
	URI              string // MongoDB连接URI
	Database         string // 数据库名
	CollectionPrefix string // 集合名前缀
	MaxRetries       int    // 连接最大重试次数
	RetryDelay       int    // 重试间隔（秒）
}

type RedisConfig struct {
	Host     string // Redis主机地址
	Port     int    // Redis端口
	Password string // Redis密码
	DB       int    // 主连接数据库编号
	CacheDB  int    // 缓存连接数据库编号
	StreamDB int    // 流连接数据库编号
	Prefix   string // 键前缀
}

type ServiceNowConfig struct {
	InstanceURL    string // ServiceNow实例地址
	Username       string // API用户名
	Password       string // API密码
	TimeoutSeconds int    // 请求超时（秒）
}

type SyncConfig struct {
	Tables         []string // 同步的表集合
	Interval       int      // 自动同步间隔（秒）
	ParallelTables int      // 批量同步并发表数
	BatchSize      int      // 单次拉取记录数
	AutoStart      bool     // 启动时是否自动开启同步
	CacheTTL       int      // 工单缓存TTL（秒）
}

type JWTConfig struct {
	SecretKey     string // JWT密钥
	TokenDuration string // 令牌有效期，如 "24h"
}

type AuthConfig struct {
	Username     string // 服务账号用户名
	Password     string // 服务账号密码（明文，仅开发环境）
	PasswordHash string // 服务账号密码bcrypt哈希（优先使用）
}

type CORSConfig struct {
	AllowOrigins     []string // 允许的源
	AllowMethods     []string // 允许的HTTP方法
	AllowHeaders     []string // 允许的请求头
	ExposeHeaders    []string // 暴露的响应头
	AllowCredentials bool     // 是否允许携带凭证
	MaxAge           int      // 预检请求缓存时间（小时）
}

// 全局配置实例和同步锁
var (
	globalConfig *Config
	once         sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		var err error
		globalConfig, err = LoadConfig()
		if err != nil {
			// 如果加载失败，可以panic或使用默认配置
			panic("Failed to load config: " + err.Error())
		}
	})
	return globalConfig
}

// 获取环境变量，如果不存在则使用默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// 获取环境变量转换为int
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// 获取环境变量转换为bool
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

// 获取环境变量转换为字符串数组（逗号分隔）
func getEnvAsStringArray(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		// 处理逗号分隔的字符串，去除空格
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Mode: getEnv("SERVER_MODE", "debug"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			FilePath:   getEnv("LOG_FILE_PATH", "logs/app.log"),
			MaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 7),
			MaxAge:     getEnvAsInt("LOG_MAX_AGE", 30),
			Compress:   getEnvAsBool("LOG_COMPRESS", true),
			Format:     getEnv("LOG_FORMAT", "json"),
		},
		Mongo: MongoConfig{
			URI:              getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:         getEnv("MONGO_DATABASE", "snowbridge"),
			CollectionPrefix: getEnv("MONGO_COLLECTION_PREFIX", "sn_"),
			MaxRetries:       getEnvAsInt("MONGO_MAX_RETRIES", 5),
			RetryDelay:       getEnvAsInt("MONGO_RETRY_DELAY", 3),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			CacheDB:  getEnvAsInt("REDIS_CACHE_DB", 1),
			StreamDB: getEnvAsInt("REDIS_STREAM_DB", 2),
			Prefix:   getEnv("REDIS_PREFIX", "snowbridge"),
		},
		ServiceNow: ServiceNowConfig{
			InstanceURL:    getEnv("SN_INSTANCE_URL", "https://dev00000.service-now.com"),
			Username:       getEnv("SN_USERNAME", ""),
			Password:       getEnv("SN_PASSWORD", ""),
			TimeoutSeconds: getEnvAsInt("SN_TIMEOUT_SECONDS", 60),
		},
		Sync: SyncConfig{
			Tables:         getEnvAsStringArray("SYNC_TABLES", []string{"incident", "change_task", "sc_task"}),
			Interval:       getEnvAsInt("SYNC_INTERVAL", 300),
			ParallelTables: getEnvAsInt("SYNC_PARALLEL_TABLES", 3),
			BatchSize:      getEnvAsInt("SYNC_BATCH_SIZE", 100),
			AutoStart:      getEnvAsBool("SYNC_AUTO_START", false),
			CacheTTL:       getEnvAsInt("SYNC_CACHE_TTL", 300),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", "default-secret-change-me"),
			TokenDuration: getEnv("JWT_TOKEN_DURATION", "24h"),
		},
		Auth: AuthConfig{
			Username:     getEnv("AUTH_USERNAME", "admin"),
			Password:     getEnv("AUTH_PASSWORD", ""),
			PasswordHash: getEnv("AUTH_PASSWORD_HASH", ""),
		},
		CORS: CORSConfig{
			AllowOrigins:     getEnvAsStringArray("CORS_ALLOW_ORIGINS", []string{"*"}),
			AllowMethods:     getEnvAsStringArray("CORS_ALLOW_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}),
			AllowHeaders:     getEnvAsStringArray("CORS_ALLOW_HEADERS", []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"}),
			ExposeHeaders:    getEnvAsStringArray("CORS_EXPOSE_HEADERS", []string{"Content-Length", "Content-Type"}),
			AllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getEnvAsInt("CORS_MAX_AGE", 12),
		},
	}

	return config, nil
}
