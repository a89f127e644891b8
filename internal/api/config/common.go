package config

// Config 配置主体
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Device       DeviceConfig       `mapstructure:"device"`
	Backend      BackendConfig      `mapstructure:"backend"`
	DB           DBConfig           `mapstructure:"database"`
	Storage      StorageConfig      `mapstructure:"storage"`
	MinIO        MinIOConfig        `mapstructure:"minio"`
	LogCollector LogCollectorConfig `mapstructure:"log_collector"`
}

// ServerConfig 本机回环 API 配置，UI 进程经由该端口访问代理
type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	LocalToken string `mapstructure:"local_token"` // UI 与代理间的共享令牌
}

// DeviceConfig 本机身份
type DeviceConfig struct {
	UserID       string `mapstructure:"user_id"`
	RefreshToken string `mapstructure:"refresh_token"`
}

// BackendConfig 后端接入点
type BackendConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	GatewayWS string `mapstructure:"gateway_ws"` // 实时通道地址
}

// DBConfig 本地 SQLite 副本
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig 附件落盘位置
type StorageConfig struct {
	DownloadDir string `mapstructure:"download_dir"`
}

// MinIOConfig 部署侧对象存储配置
type MinIOConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Bucket     string `mapstructure:"bucket"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	PartSizeMB int    `mapstructure:"part_size_mb"`
}

// LogCollectorConfig 远程日志收集器（可选）
type LogCollectorConfig struct {
	Address string `mapstructure:"address"`
	Index   string `mapstructure:"index"`
	Token   string `mapstructure:"token"`
}
