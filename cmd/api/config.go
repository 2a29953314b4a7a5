package main

import (
	"encoding/json"
	"os"
	"time"
)

type Config struct {
	HttpPort          int           `json:"http_port"`
	DbConnString      string        `json:"db_conn_string"`
	RedisAddr         string        `json:"redis_addr"`
	GatewayBaseUrl    string        `json:"gateway_base_url"`
	GatewayToken      string        `json:"gateway_token"`
	WebhookSecret     string        `json:"webhook_secret"`
	AmqpUrl           string        `json:"amqp_url"`
	AmqpExchange      string        `json:"amqp_exchange"`
	AmqpQueue         string        `json:"amqp_queue"`
	AmqpWorkerCount   int           `json:"amqp_worker_count"`
	SendTimeoutStr    string        `json:"send_timeout"`
	SendTimeout       time.Duration `json:"-"`
	CommandTimeoutStr string        `json:"command_timeout"`
	CommandTimeout    time.Duration `json:"-"`
	GatewayMaxRetry   int           `json:"gateway_max_retry"`
}

// ReadConfigJson reads json formatted configuration from the given file
func ReadConfigJson(configFile string) (*Config, error) {
	content, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}

	cfg := new(Config)

	if err = json.Unmarshal(content, cfg); err != nil {
		return nil, err
	}

	if cfg.SendTimeoutStr == "" {
		cfg.SendTimeoutStr = "30s"
	}
	cfg.SendTimeout, err = time.ParseDuration(cfg.SendTimeoutStr)
	if err != nil {
		return nil, err
	}

	if cfg.CommandTimeoutStr == "" {
		cfg.CommandTimeoutStr = "15s"
	}
	cfg.CommandTimeout, err = time.ParseDuration(cfg.CommandTimeoutStr)
	if err != nil {
		return nil, err
	}

	if cfg.AmqpWorkerCount <= 0 {
		cfg.AmqpWorkerCount = 8
	}

	return cfg, nil
}
