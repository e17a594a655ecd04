package config

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	DBPath         string
	LogPath        string
	HostsPath      string
	BackupDir      string
	BackupKeep     int
	AdminURL       string
	BlockHTTPPort  int
	BlockTLSPort   int
	CACertPath     string
	CAKeyPath      string
	CertDir        string
	CertTTLDays    int
	ChainName      string
	RedirectChain  string
	CommandTimeout time.Duration
	PollInterval   time.Duration
	BlacklistURL   string
	MaxRetries     int
	RetryDelay     time.Duration
}

// Init loads config/config.yaml if present and returns the resolved
// configuration; callers pass the struct down rather than reading globals.
func Init() AppConfig {
	v := viper.New()
	v.SetConfigFile("config/config.yaml")
	v.SetConfigType("yaml")

	// defaults
	v.SetDefault("guard.db_path", filepath.Join("/var/lib/homeguard", "guard.db"))
	v.SetDefault("guard.log_path", "")
	v.SetDefault("guard.hosts_path", "/etc/hosts")
	v.SetDefault("guard.backup_dir", "/var/lib/homeguard/backups")
	v.SetDefault("guard.backup_keep", 10)
	v.SetDefault("guard.admin_url", "http://127.0.0.1:5000/blocked")
	v.SetDefault("guard.block_http_port", 8080)
	v.SetDefault("guard.block_tls_port", 8443)
	v.SetDefault("guard.ca_cert", "/var/lib/homeguard/certs/ca.crt")
	v.SetDefault("guard.ca_key", "/var/lib/homeguard/certs/ca.key")
	v.SetDefault("guard.cert_dir", "/var/lib/homeguard/certs/domains")
	v.SetDefault("guard.cert_ttl_days", 30)
	v.SetDefault("guard.chain_name", "HOMEGUARD")
	v.SetDefault("guard.redirect_chain", "HOMEGUARD_REDIRECT")
	v.SetDefault("guard.command_timeout", "10s")
	v.SetDefault("guard.poll_interval", "60s")
	v.SetDefault("guard.blacklist_url", "https://dsi.ut-capitole.fr/blacklists/download")
	v.SetDefault("guard.max_retries", 3)
	v.SetDefault("guard.retry_delay", "2s")
	_ = v.ReadInConfig()

	return AppConfig{
		DBPath:         v.GetString("guard.db_path"),
		LogPath:        v.GetString("guard.log_path"),
		HostsPath:      v.GetString("guard.hosts_path"),
		BackupDir:      v.GetString("guard.backup_dir"),
		BackupKeep:     v.GetInt("guard.backup_keep"),
		AdminURL:       v.GetString("guard.admin_url"),
		BlockHTTPPort:  v.GetInt("guard.block_http_port"),
		BlockTLSPort:   v.GetInt("guard.block_tls_port"),
		CACertPath:     v.GetString("guard.ca_cert"),
		CAKeyPath:      v.GetString("guard.ca_key"),
		CertDir:        v.GetString("guard.cert_dir"),
		CertTTLDays:    v.GetInt("guard.cert_ttl_days"),
		ChainName:      v.GetString("guard.chain_name"),
		RedirectChain:  v.GetString("guard.redirect_chain"),
		CommandTimeout: v.GetDuration("guard.command_timeout"),
		PollInterval:   v.GetDuration("guard.poll_interval"),
		BlacklistURL:   v.GetString("guard.blacklist_url"),
		MaxRetries:     v.GetInt("guard.max_retries"),
		RetryDelay:     v.GetDuration("guard.retry_delay"),
	}
}
