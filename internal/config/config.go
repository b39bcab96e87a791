// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Index         IndexConfig         `mapstructure:"index"`
	Upload        UploadConfig        `mapstructure:"upload"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                   string   `mapstructure:"secret"`
	AccessTokenExpireMinutes int      `mapstructure:"access_token_expire_minutes"`
	AdminUsers               []string `mapstructure:"admin_users"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时禁用异步索引任务。
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// Enabled 表示是否配置了 Kafka。
func (c KafkaConfig) Enabled() bool {
	return c.Brokers != ""
}

// TikaConfig 存储 Tika 服务器相关的配置。ServerURL 为空时只使用本地解析器。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses   string `mapstructure:"addresses"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	IndexPrefix string `mapstructure:"index_prefix"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	BatchSize int           `mapstructure:"batch_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules    string `mapstructure:"rules"`
	RefStart string `mapstructure:"ref_start"`
	RefEnd   string `mapstructure:"ref_end"`
}

// IndexConfig 存储向量索引与索引流程相关的配置。
type IndexConfig struct {
	ChunkSize         int           `mapstructure:"chunk_size"`
	ChunkOverlap      int           `mapstructure:"chunk_overlap"`
	Separator         string        `mapstructure:"separator"`
	TopK              int           `mapstructure:"top_k"`
	MinScore          float32       `mapstructure:"min_score"`
	Store             string        `mapstructure:"store"`
	Dir               string        `mapstructure:"dir"`
	Name              string        `mapstructure:"name"`
	DefaultNamespace  string        `mapstructure:"default_namespace"`
	Workers           int           `mapstructure:"workers"`
	DocumentTimeout   time.Duration `mapstructure:"document_timeout"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	CacheSize         int           `mapstructure:"cache_size"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	AutoIndexOnUpload bool          `mapstructure:"auto_index_on_upload"`
}

// UploadConfig 存储文件上传相关的配置。
type UploadConfig struct {
	TempDir   string `mapstructure:"temp_dir"`
	BlobDir   string `mapstructure:"blob_dir"`
	MaxSizeMB int64  `mapstructure:"max_size_mb"`
}

// setDefaults 注册所有配置项的默认值，同时让 AutomaticEnv 能识别这些键。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.mysql.auto_migrate", true)
	v.SetDefault("database.redis.addr", "127.0.0.1:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_expire_minutes", 30)
	v.SetDefault("jwt.admin_users", []string{"admin"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "docqa-index")
	v.SetDefault("kafka.group_id", "docqa-go-indexer")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("tika.server_url", "")
	v.SetDefault("tika.timeout", 60*time.Second)
	v.SetDefault("elasticsearch.addresses", "")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index_prefix", "docqa-vectors")
	v.SetDefault("minio.endpoint", "127.0.0.1:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "aiplanet7")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.timeout", 60*time.Second)
	v.SetDefault("embedding.cache_size", 1024)
	v.SetDefault("embedding.cache_ttl", 30*time.Minute)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.generation.temperature", 0.0)
	v.SetDefault("llm.generation.top_p", 0.0)
	v.SetDefault("llm.generation.max_tokens", 0)
	v.SetDefault("llm.prompt.rules", "")
	v.SetDefault("llm.prompt.ref_start", "")
	v.SetDefault("llm.prompt.ref_end", "")
	v.SetDefault("index.chunk_size", 1000)
	v.SetDefault("index.chunk_overlap", 30)
	v.SetDefault("index.separator", "\n")
	v.SetDefault("index.top_k", 4)
	v.SetDefault("index.min_score", 0.0)
	v.SetDefault("index.store", "file")
	v.SetDefault("index.dir", "data/indexes")
	v.SetDefault("index.name", "faiss_index")
	v.SetDefault("index.default_namespace", "default")
	v.SetDefault("index.workers", 1)
	v.SetDefault("index.document_timeout", 2*time.Minute)
	v.SetDefault("index.run_timeout", 30*time.Minute)
	v.SetDefault("index.lock_ttl", 5*time.Minute)
	v.SetDefault("index.cache_size", 16)
	v.SetDefault("index.cache_ttl", 10*time.Minute)
	v.SetDefault("index.auto_index_on_upload", false)
	v.SetDefault("upload.temp_dir", os.TempDir())
	v.SetDefault("upload.blob_dir", "data/blobs")
	v.SetDefault("upload.max_size_mb", 50)
}

// Load 读取配置文件并返回解析后的配置，不修改全局变量。
// configPath 为空时只使用默认值与环境变量。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	// 环境变量覆盖，例如 DOCQA_LLM_API_KEY 覆盖 llm.api_key
	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
