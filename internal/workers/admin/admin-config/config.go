// internal/workers/admin/admin-config/config.go
package adminconfig

import "time"

type Config struct {
	Timeout   time.Duration
	Operators []string
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
