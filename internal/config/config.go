package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Auth       AuthConfig
	Redis      RedisConfig
	Registry   RegistryConfig
	Jobs       JobsConfig
	GCP        GCPConfig
	Gemini     GeminiConfig
	Motion     MotionConfig
	Music      MusicConfig
	Compositor CompositorConfig
	Pipeline   PipelineConfig
	Instagram  InstagramConfig
	TikTok     TikTokConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type AuthConfig struct {
	APIKey string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RegistryConfig selects the character store backend: "file" keeps a local
// JSON collection, "firestore" uses one document per character.
type RegistryConfig struct {
	Backend string
	Path    string
}

// JobsConfig selects the job document backend: "redis" or "firestore".
type JobsConfig struct {
	Backend    string
	Collection string
	Retention  int // hours, redis backend only
}

type GCPConfig struct {
	ProjectID       string
	Bucket          string
	CredentialsFile string
	BasePrefix      string
}

type GeminiConfig struct {
	APIKeys    []string // rotation pool
	TextModel  string
	ImageModel string
	RPS        int
}

type MotionConfig struct {
	APIKey   string
	BaseURL  string
	Endpoint string
	Timeout  int // seconds
}

type MusicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type CompositorConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type PipelineConfig struct {
	MaxCount        int
	DefaultStyleID  string
	DanceVersions   int
	OutputDir       string
	ReferenceDir    string
	ReferencePrefix string // GCS prefix scanned when the local dir is empty
	JobTimeout      int    // seconds
}

type InstagramConfig struct {
	AccessToken string
	AccountID   string
	BaseURL     string
}

type TikTokConfig struct {
	AccessToken string
	BaseURL     string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("PIPELINE_API_KEY")
	readSecret("GOOGLE_ROTATION_KEYS")
	readSecret("FAL_AI_KEY")
	readSecret("MINIMAX_API_KEY")
	readSecret("INSTAGRAM_ACCESS_TOKEN")
	readSecret("TIKTOK_ACCESS_TOKEN")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("auth.api_key", "PIPELINE_API_KEY")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("registry.backend", "REGISTRY_BACKEND")
	_ = viper.BindEnv("registry.path", "REGISTRY_PATH")
	_ = viper.BindEnv("jobs.backend", "JOBS_BACKEND")
	_ = viper.BindEnv("jobs.collection", "JOBS_COLLECTION")
	_ = viper.BindEnv("gcp.project_id", "GCP_PROJECT_ID")
	_ = viper.BindEnv("gcp.bucket", "GCS_BUCKET_NAME")
	_ = viper.BindEnv("gcp.credentials_file", "GOOGLE_APPLICATION_CREDENTIALS")
	_ = viper.BindEnv("gemini.api_keys", "GOOGLE_ROTATION_KEYS")
	_ = viper.BindEnv("gemini.text_model", "GEMINI_TEXT_MODEL")
	_ = viper.BindEnv("gemini.image_model", "GEMINI_IMAGE_MODEL")
	_ = viper.BindEnv("motion.api_key", "FAL_AI_KEY")
	_ = viper.BindEnv("motion.base_url", "FAL_BASE_URL")
	_ = viper.BindEnv("music.api_key", "MINIMAX_API_KEY")
	_ = viper.BindEnv("music.base_url", "MINIMAX_BASE_URL")
	_ = viper.BindEnv("compositor.service_url", "COMPOSITOR_SERVICE_URL")
	_ = viper.BindEnv("compositor.timeout", "COMPOSITOR_TIMEOUT")
	_ = viper.BindEnv("pipeline.max_count", "PIPELINE_MAX_COUNT")
	_ = viper.BindEnv("pipeline.reference_dir", "PIPELINE_REFERENCE_DIR")
	_ = viper.BindEnv("pipeline.output_dir", "PIPELINE_OUTPUT_DIR")
	_ = viper.BindEnv("instagram.access_token", "INSTAGRAM_ACCESS_TOKEN")
	_ = viper.BindEnv("instagram.account_id", "INSTAGRAM_ACCOUNT_ID")
	_ = viper.BindEnv("tiktok.access_token", "TIKTOK_ACCESS_TOKEN")

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("registry.backend", "file")
	viper.SetDefault("registry.path", "./output/characters/character_db.json")
	viper.SetDefault("jobs.backend", "redis")
	viper.SetDefault("jobs.collection", "pipeline_jobs")
	viper.SetDefault("jobs.retention", 24)

	// Gemini defaults
	viper.SetDefault("gemini.text_model", "gemini-3-pro-preview")
	viper.SetDefault("gemini.image_model", "gemini-3-pro-image-preview")
	viper.SetDefault("gemini.rps", 1)

	// Motion transfer defaults (fal.ai Kling motion control)
	viper.SetDefault("motion.base_url", "https://queue.fal.run")
	viper.SetDefault("motion.endpoint", "fal-ai/kling-video/v2.6/pro/motion-control")
	viper.SetDefault("motion.timeout", 900)

	// Music generation defaults
	viper.SetDefault("music.base_url", "https://api.minimax.io/v1")
	viper.SetDefault("music.model", "music-2.5")

	// Compositor service defaults
	viper.SetDefault("compositor.service_url", "http://localhost:8084")
	viper.SetDefault("compositor.timeout", 300)

	// Pipeline defaults
	viper.SetDefault("pipeline.max_count", 10)
	viper.SetDefault("pipeline.default_style_id", "kpop_dance")
	viper.SetDefault("pipeline.dance_versions", 3)
	viper.SetDefault("pipeline.output_dir", "/tmp/output")
	viper.SetDefault("pipeline.reference_dir", "/tmp/references")
	viper.SetDefault("pipeline.reference_prefix", "anime_dance/references")
	viper.SetDefault("pipeline.job_timeout", 3600)

	// Social publishing defaults
	viper.SetDefault("instagram.base_url", "https://graph.facebook.com/v21.0")
	viper.SetDefault("tiktok.base_url", "https://open.tiktokapis.com/v2")

	viper.SetDefault("gcp.base_prefix", "anime_dance")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Auth: AuthConfig{
			APIKey: viper.GetString("auth.api_key"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Registry: RegistryConfig{
			Backend: viper.GetString("registry.backend"),
			Path:    viper.GetString("registry.path"),
		},
		Jobs: JobsConfig{
			Backend:    viper.GetString("jobs.backend"),
			Collection: viper.GetString("jobs.collection"),
			Retention:  viper.GetInt("jobs.retention"),
		},
		GCP: GCPConfig{
			ProjectID:       viper.GetString("gcp.project_id"),
			Bucket:          viper.GetString("gcp.bucket"),
			CredentialsFile: viper.GetString("gcp.credentials_file"),
			BasePrefix:      viper.GetString("gcp.base_prefix"),
		},
		Gemini: GeminiConfig{
			APIKeys:    splitKeys(viper.GetString("gemini.api_keys")),
			TextModel:  viper.GetString("gemini.text_model"),
			ImageModel: viper.GetString("gemini.image_model"),
			RPS:        viper.GetInt("gemini.rps"),
		},
		Motion: MotionConfig{
			APIKey:   viper.GetString("motion.api_key"),
			BaseURL:  viper.GetString("motion.base_url"),
			Endpoint: viper.GetString("motion.endpoint"),
			Timeout:  viper.GetInt("motion.timeout"),
		},
		Music: MusicConfig{
			APIKey:  viper.GetString("music.api_key"),
			BaseURL: viper.GetString("music.base_url"),
			Model:   viper.GetString("music.model"),
		},
		Compositor: CompositorConfig{
			ServiceURL: viper.GetString("compositor.service_url"),
			Timeout:    viper.GetInt("compositor.timeout"),
		},
		Pipeline: PipelineConfig{
			MaxCount:        viper.GetInt("pipeline.max_count"),
			DefaultStyleID:  viper.GetString("pipeline.default_style_id"),
			DanceVersions:   viper.GetInt("pipeline.dance_versions"),
			OutputDir:       viper.GetString("pipeline.output_dir"),
			ReferenceDir:    viper.GetString("pipeline.reference_dir"),
			ReferencePrefix: viper.GetString("pipeline.reference_prefix"),
			JobTimeout:      viper.GetInt("pipeline.job_timeout"),
		},
		Instagram: InstagramConfig{
			AccessToken: viper.GetString("instagram.access_token"),
			AccountID:   viper.GetString("instagram.account_id"),
			BaseURL:     viper.GetString("instagram.base_url"),
		},
		TikTok: TikTokConfig{
			AccessToken: viper.GetString("tiktok.access_token"),
			BaseURL:     viper.GetString("tiktok.base_url"),
		},
	}

	return cfg, nil
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
