// internal/pkg/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是 fulfillment-service 的完整配置
type Config struct {
	App           AppConfig           `yaml:"app"`
	HTTP          HTTPConfig          `yaml:"http"`
	Infra         InfraConfig         `yaml:"infra"`
	Payment       PaymentConfig       `yaml:"payment"`
	Partner       PartnerConfig       `yaml:"partner"`
	Admin         AdminConfig         `yaml:"admin"`
	Fulfillment   FulfillmentConfig   `yaml:"fulfillment"`
	Retry         RetryConfig         `yaml:"retry"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Credits       CreditsConfig       `yaml:"credits"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Services      ServicesConfig      `yaml:"services"`
}

type AppConfig struct {
	ServiceName string `yaml:"serviceName"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
	PublicURL   string `yaml:"publicUrl"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WebhookTimeout  time.Duration `yaml:"webhookTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// InfraConfig 包含所有基础设施组件的连接信息
type InfraConfig struct {
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
}

type MySQLConfig struct {
	DSN          string `yaml:"dsn"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	MaxIdleConns int    `yaml:"maxIdleConns"`
	AutoMigrate  bool   `yaml:"autoMigrate"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
}

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	NotificationTopic string   `yaml:"notificationTopic"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type NacosConfig struct {
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
	LockTimeout    time.Duration `yaml:"lockTimeout"`
}

type PaymentConfig struct {
	WebhookSecret      string        `yaml:"webhookSecret"`
	SignatureHeader    string        `yaml:"signatureHeader"`
	SignatureTolerance time.Duration `yaml:"signatureTolerance"`
}

type PartnerConfig struct {
	Name          string `yaml:"name"`
	Email         string `yaml:"email"`
	WebhookSecret string `yaml:"webhookSecret"`
	SecretHeader  string `yaml:"secretHeader"`
}

type AdminConfig struct {
	Token           string        `yaml:"token"`
	GenerateTimeout time.Duration `yaml:"generateTimeout"`
}

// SizeSpec 是一个物理尺寸的定义
type SizeSpec struct {
	Code     string  `yaml:"code"`
	WidthCM  float64 `yaml:"widthCm"`
	HeightCM float64 `yaml:"heightCm"`
}

type FulfillmentConfig struct {
	ItemConcurrency   int           `yaml:"itemConcurrency"`
	GenerationTimeout time.Duration `yaml:"generationTimeout"`
	PrintDPI          int           `yaml:"printDpi"`
	FinalDPI          int           `yaml:"finalDpi"`
	MinSourceRatio    float64       `yaml:"minSourceRatio"`
	PremiumRule       string        `yaml:"premiumRule"`
	Sizes             []SizeSpec    `yaml:"sizes"`
}

type RetryConfig struct {
	MaxPrimaryAttempts  int           `yaml:"maxPrimaryAttempts"`
	MaxFallbackAttempts int           `yaml:"maxFallbackAttempts"`
	BaseDelay           time.Duration `yaml:"baseDelay"`
}

type AlertsConfig struct {
	Cooldown   time.Duration `yaml:"cooldown"`
	AdminEmail string        `yaml:"adminEmail"`
	Store      string        `yaml:"store"` // memory | redis
}

type CreditsConfig struct {
	FirstPurchaseBonus int64 `yaml:"firstPurchaseBonus"`
}

type NotificationsConfig struct {
	QueueSize   int           `yaml:"queueSize"`
	Workers     int           `yaml:"workers"`
	SendTimeout time.Duration `yaml:"sendTimeout"`
}

// ServicesConfig 是下游 HTTP 服务的地址
type ServicesConfig struct {
	CatalogURL          string `yaml:"catalogUrl"`
	RendererURL         string `yaml:"rendererUrl"`
	UpscalerPrimaryURL  string `yaml:"upscalerPrimaryUrl"`
	UpscalerFallbackURL string `yaml:"upscalerFallbackUrl"`
	UpscalerAPIKey      string `yaml:"upscalerApiKey"`
}

// Default 返回一份可以直接运行的默认配置
func Default() *Config {
	return &Config{
		App: AppConfig{ServiceName: "fulfillment-service", LogLevel: "info", LogFormat: "json"},
		HTTP: HTTPConfig{
			Port:            8090,
			ReadTimeout:     10 * time.Second,
			WebhookTimeout:  25 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Infra: InfraConfig{
			MySQL:     MySQLConfig{Host: "localhost", Port: 3306, User: "root", Database: "printforge", MaxOpenConns: 20, MaxIdleConns: 5, AutoMigrate: true},
			Redis:     RedisConfig{Addrs: []string{"localhost:6379"}},
			Kafka:     KafkaConfig{Brokers: []string{"localhost:9092"}, NotificationTopic: "notifications"},
			Jaeger:    JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			Zookeeper: ZookeeperConfig{SessionTimeout: 10 * time.Second, LockTimeout: 5 * time.Second},
		},
		Payment: PaymentConfig{SignatureHeader: "Stripe-Signature", SignatureTolerance: 5 * time.Minute},
		Partner: PartnerConfig{Name: "printlab", SecretHeader: "X-Partner-Secret"},
		Admin:   AdminConfig{GenerateTimeout: 5 * time.Minute},
		Fulfillment: FulfillmentConfig{
			ItemConcurrency:   1,
			GenerationTimeout: 20 * time.Second,
			PrintDPI:          150,
			FinalDPI:          300,
			MinSourceRatio:    1.0,
			PremiumRule:       "long_edge_cm >= 70.0",
			Sizes: []SizeSpec{
				{Code: "21x30", WidthCM: 21, HeightCM: 30},
				{Code: "30x40", WidthCM: 30, HeightCM: 40},
				{Code: "40x50", WidthCM: 40, HeightCM: 50},
				{Code: "50x70", WidthCM: 50, HeightCM: 70},
				{Code: "70x100", WidthCM: 70, HeightCM: 100},
			},
		},
		Retry:         RetryConfig{MaxPrimaryAttempts: 3, MaxFallbackAttempts: 2, BaseDelay: 500 * time.Millisecond},
		Alerts:        AlertsConfig{Cooldown: 15 * time.Minute, Store: "memory"},
		Credits:       CreditsConfig{FirstPurchaseBonus: 20},
		Notifications: NotificationsConfig{QueueSize: 256, Workers: 4, SendTimeout: 10 * time.Second},
	}
}

// Load 读取 YAML 配置文件（可选），然后用环境变量覆盖敏感字段。
// path 为空或文件不存在时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Payment.WebhookSecret = getEnv("PAYMENT_WEBHOOK_SECRET", cfg.Payment.WebhookSecret)
	cfg.Partner.WebhookSecret = getEnv("PARTNER_WEBHOOK_SECRET", cfg.Partner.WebhookSecret)
	cfg.Admin.Token = getEnv("ADMIN_TOKEN", cfg.Admin.Token)
	cfg.Infra.MySQL.DSN = getEnv("MYSQL_DSN", cfg.Infra.MySQL.DSN)
	cfg.Infra.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.Infra.MySQL.Password)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.ServerAddrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
	cfg.Services.UpscalerAPIKey = getEnv("UPSCALER_API_KEY", cfg.Services.UpscalerAPIKey)
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		cfg.Infra.Kafka.Brokers = splitCSV(v)
	}
	if v := getEnv("REDIS_ADDRS", ""); v != "" {
		cfg.Infra.Redis.Addrs = splitCSV(v)
	}
	if v := getEnv("ZOOKEEPER_SERVERS", ""); v != "" {
		cfg.Infra.Zookeeper.Servers = splitCSV(v)
	}
	if v := getEnv("HTTP_PORT", ""); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = port
		}
	}
}

// Validate 检查启动所必需的配置项
func (c *Config) Validate() error {
	if c.Payment.WebhookSecret == "" {
		return fmt.Errorf("payment.webhookSecret (PAYMENT_WEBHOOK_SECRET) is required")
	}
	if c.Partner.WebhookSecret == "" {
		return fmt.Errorf("partner.webhookSecret (PARTNER_WEBHOOK_SECRET) is required")
	}
	if c.Partner.WebhookSecret == c.Payment.WebhookSecret {
		return fmt.Errorf("partner and payment webhook secrets must differ")
	}
	if len(c.Fulfillment.Sizes) == 0 {
		return fmt.Errorf("fulfillment.sizes must not be empty")
	}
	if c.Retry.MaxPrimaryAttempts < 1 {
		return fmt.Errorf("retry.maxPrimaryAttempts must be >= 1, got %d", c.Retry.MaxPrimaryAttempts)
	}
	return nil
}

// getEnv 从环境变量中读取配置，不存在时返回 fallback
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
