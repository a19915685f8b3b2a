package config

import "time"

// RPC configures the JSON-RPC, websocket and gRPC listeners.
type RPC struct {
	ListenAddress     string   `toml:"ListenAddress" yaml:"listenAddress"`
	GRPCAddress       string   `toml:"GRPCAddress" yaml:"grpcAddress"`
	MaxConnections    int      `toml:"MaxConnections" yaml:"maxConnections"`
	MaxBodyBytes      int64    `toml:"MaxBodyBytes" yaml:"maxBodyBytes"`
	ReadHeaderTimeout int      `toml:"ReadHeaderTimeout" yaml:"readHeaderTimeout"` // seconds
	TLSCertFile       string   `toml:"TLSCertFile" yaml:"tlsCertFile"`
	TLSKeyFile        string   `toml:"TLSKeyFile" yaml:"tlsKeyFile"`
	EnvelopeTTL       int      `toml:"EnvelopeTTL" yaml:"envelopeTTL"` // seconds
	RequestsPerMinute float64  `toml:"RequestsPerMinute" yaml:"requestsPerMinute"`
	Burst             int      `toml:"Burst" yaml:"burst"`
	AllowedOrigins    []string `toml:"AllowedOrigins" yaml:"allowedOrigins"`
	JWTIssuer         string   `toml:"JWTIssuer" yaml:"jwtIssuer"`
	JWTAudience       string   `toml:"JWTAudience" yaml:"jwtAudience"`
	OperatorScope     string   `toml:"OperatorScope" yaml:"operatorScope"`
	LogRequests       bool     `toml:"LogRequests" yaml:"logRequests"`
}

// ReadHeaderTimeoutDuration converts the configured seconds.
func (r RPC) ReadHeaderTimeoutDuration() time.Duration {
	return time.Duration(r.ReadHeaderTimeout) * time.Second
}

// EnvelopeTTLDuration converts the configured seconds.
func (r RPC) EnvelopeTTLDuration() time.Duration {
	return time.Duration(r.EnvelopeTTL) * time.Second
}

// Token describes one reference token registered at first start.
type Token struct {
	Address  string `toml:"Address" yaml:"address"`
	Name     string `toml:"Name" yaml:"name"`
	Symbol   string `toml:"Symbol" yaml:"symbol"`
	Decimals uint8  `toml:"Decimals" yaml:"decimals"`
}

// Genesis holds the constructor arguments applied on first start. An empty
// Admin falls back to the admin keystore account.
type Genesis struct {
	Admin           string `toml:"Admin" yaml:"admin"`
	Operator        string `toml:"Operator" yaml:"operator"`
	USDC            Token  `toml:"USDC" yaml:"usdc"`
	XLM             Token  `toml:"XLM" yaml:"xlm"`
	Oracle          string `toml:"Oracle" yaml:"oracle"`
	OracleBase      string `toml:"OracleBase" yaml:"oracleBase"`
	MaxInterestRate uint32 `toml:"MaxInterestRate" yaml:"maxInterestRate"`
}

// Pauses lists modules that start paused.
type Pauses struct {
	Lending bool `toml:"Lending" yaml:"lending"`
	Token   bool `toml:"Token" yaml:"token"`
	Oracle  bool `toml:"Oracle" yaml:"oracle"`
}

// Quota defines per-caller rate limits for state-changing calls. Volume is
// counted in whole tokens.
type Quota struct {
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch" yaml:"maxRequestsPerEpoch"`
	MaxVolumePerEpoch   uint64 `toml:"MaxVolumePerEpoch" yaml:"maxVolumePerEpoch"`
	EpochSeconds        uint32 `toml:"EpochSeconds" yaml:"epochSeconds"`
}

// Logging configures the structured logger.
type Logging struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
	Traces   bool   `toml:"Traces" yaml:"traces"`

	// SampleRatio keeps this share of root spans; 0 keeps all.
	SampleRatio           float64 `toml:"SampleRatio" yaml:"sampleRatio"`
	// MetricIntervalSeconds is the OTLP metric push period.
	MetricIntervalSeconds int     `toml:"MetricIntervalSeconds" yaml:"metricIntervalSeconds"`
}

// Archive configures the event archive. A DSN starting with postgres:// (or
// postgresql://) selects Postgres, anything else is a SQLite path.
type Archive struct {
	Enabled   bool   `toml:"Enabled" yaml:"enabled"`
	DSN       string `toml:"DSN" yaml:"dsn"`
	QueueSize int    `toml:"QueueSize" yaml:"queueSize"`
}
