package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"p2plend/core"
	"p2plend/crypto"
	nativecommon "p2plend/native/common"
	"p2plend/native/lending"
	"p2plend/native/token"
	"p2plend/storage"
)

// Environment variables holding secrets. Secrets are never read from the
// config file.
const (
	EnvKeystorePassphrase = "LEND_KEYSTORE_PASSPHRASE"
	EnvJWTSecret          = "LEND_RPC_JWT_SECRET"
)

type Config struct {
	Environment       string         `toml:"Environment" yaml:"environment"`
	DataDir           string         `toml:"DataDir" yaml:"dataDir"`
	StorageBackend    string         `toml:"StorageBackend" yaml:"storageBackend"`
	AdminKeystorePath string         `toml:"AdminKeystorePath" yaml:"adminKeystorePath"`
	OracleRetention   int            `toml:"OracleRetention" yaml:"oracleRetention"`
	RPC               RPC            `toml:"rpc" yaml:"rpc"`
	Genesis           Genesis        `toml:"genesis" yaml:"genesis"`
	Lending           lending.Config `toml:"lending" yaml:"lending"`
	Quota             Quota          `toml:"quota" yaml:"quota"`
	Pauses            Pauses         `toml:"pauses" yaml:"pauses"`
	Logging           Logging        `toml:"logging" yaml:"logging"`
	Telemetry         Telemetry      `toml:"telemetry" yaml:"telemetry"`
	Archive           Archive        `toml:"archive" yaml:"archive"`
}

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	passphrase func() (string, error)
}

// WithKeystorePassphraseSource supplies the passphrase used when Load has to
// generate the admin keystore. It is only invoked in that case.
func WithKeystorePassphraseSource(fn func() (string, error)) Option {
	return func(o *loadOptions) {
		if fn != nil {
			o.passphrase = fn
		}
	}
}

// Load reads the configuration at path. A missing file is created with
// defaults, and a missing admin keystore is generated and encrypted with the
// passphrase source (LEND_KEYSTORE_PASSPHRASE by default).
func Load(path string, opts ...Option) (*Config, error) {
	options := loadOptions{passphrase: func() (string, error) {
		return os.Getenv(EnvKeystorePassphrase), nil
	}}
	for _, opt := range opts {
		opt(&options)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options.passphrase)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := decode(path, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.normalize(path)
	if err := ensureKeystore(path, cfg, options.passphrase); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func decode(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}
	meta, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown key %s", undecoded[0])
	}
	return nil
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		Environment:     "local",
		DataDir:         "./lend-data",
		StorageBackend:  storage.BackendLevelDB,
		OracleRetention: 256,
		RPC: RPC{
			ListenAddress:     "127.0.0.1:8545",
			GRPCAddress:       "127.0.0.1:9545",
			MaxConnections:    512,
			MaxBodyBytes:      1 << 20,
			ReadHeaderTimeout: 10,
			EnvelopeTTL:       300,
			RequestsPerMinute: 600,
			Burst:             60,
			OperatorScope:     "operator",
		},
		Genesis: Genesis{
			Operator: crypto.ModuleAddress("operator").String(),
			USDC: Token{
				Address:  crypto.ModuleAddress("token:USDC").String(),
				Name:     "USD Coin",
				Symbol:   "USDC",
				Decimals: token.DefaultDecimals,
			},
			XLM: Token{
				Address:  crypto.ModuleAddress("token:XLM").String(),
				Name:     "Stellar Lumens",
				Symbol:   "XLM",
				Decimals: token.DefaultDecimals,
			},
			Oracle:     crypto.ModuleAddress("oracle").String(),
			OracleBase: "USDC",
		},
		Quota: Quota{EpochSeconds: 60},
		Logging: Logging{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Archive: Archive{QueueSize: 1024},
	}
}

// normalize fills unset fields from Default.
func (c *Config) normalize(path string) {
	def := Default()
	c.Environment = strings.TrimSpace(c.Environment)
	if c.Environment == "" {
		c.Environment = def.Environment
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = def.DataDir
	}
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	if c.StorageBackend == "" {
		c.StorageBackend = def.StorageBackend
	}
	if c.AdminKeystorePath == "" {
		c.AdminKeystorePath = defaultKeystorePath(path)
	}
	if c.OracleRetention <= 0 {
		c.OracleRetention = def.OracleRetention
	}
	if c.RPC.ListenAddress == "" {
		c.RPC.ListenAddress = def.RPC.ListenAddress
	}
	if c.RPC.MaxBodyBytes <= 0 {
		c.RPC.MaxBodyBytes = def.RPC.MaxBodyBytes
	}
	if c.RPC.ReadHeaderTimeout <= 0 {
		c.RPC.ReadHeaderTimeout = def.RPC.ReadHeaderTimeout
	}
	if c.RPC.EnvelopeTTL <= 0 {
		c.RPC.EnvelopeTTL = def.RPC.EnvelopeTTL
	}
	if c.RPC.OperatorScope == "" {
		c.RPC.OperatorScope = def.RPC.OperatorScope
	}
	if c.Genesis.Operator == "" {
		c.Genesis.Operator = def.Genesis.Operator
	}
	if c.Genesis.Oracle == "" {
		c.Genesis.Oracle = def.Genesis.Oracle
	}
	c.Genesis.USDC = normalizeToken(c.Genesis.USDC, def.Genesis.USDC)
	c.Genesis.XLM = normalizeToken(c.Genesis.XLM, def.Genesis.XLM)
	if c.Genesis.OracleBase == "" {
		c.Genesis.OracleBase = c.Genesis.USDC.Symbol
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Archive.QueueSize <= 0 {
		c.Archive.QueueSize = def.Archive.QueueSize
	}
}

func normalizeToken(t, def Token) Token {
	if strings.TrimSpace(t.Address) == "" {
		t.Address = def.Address
	}
	if strings.TrimSpace(t.Name) == "" {
		t.Name = def.Name
	}
	if strings.TrimSpace(t.Symbol) == "" {
		t.Symbol = def.Symbol
	}
	if t.Decimals == 0 {
		t.Decimals = def.Decimals
	}
	return t
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt, storage.BackendPebble:
	default:
		return fmt.Errorf("storage: unsupported backend %q", c.StorageBackend)
	}
	if (c.RPC.TLSCertFile == "") != (c.RPC.TLSKeyFile == "") {
		return errors.New("rpc: TLSCertFile and TLSKeyFile must be set together")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry: sample ratio must be within [0, 1]")
	}
	if c.RPC.RequestsPerMinute < 0 || c.RPC.Burst < 0 {
		return errors.New("rpc: rate limits must not be negative")
	}
	if _, err := c.Lending.Params(); err != nil {
		return err
	}
	if _, err := c.GenesisSpec(crypto.Address{}); err != nil {
		return err
	}
	if c.Quota.EpochSeconds == 0 && (c.Quota.MaxRequestsPerEpoch > 0 || c.Quota.MaxVolumePerEpoch > 0) {
		return errors.New("quota: EpochSeconds required when limits are set")
	}
	if c.Archive.Enabled && strings.TrimSpace(c.Archive.DSN) == "" {
		return errors.New("archive: DSN required when enabled")
	}
	return nil
}

// GenesisSpec resolves the genesis section. admin replaces an empty Admin.
func (c *Config) GenesisSpec(admin crypto.Address) (core.Genesis, error) {
	g := core.Genesis{Admin: admin, OracleBase: c.Genesis.OracleBase, MaxInterestRate: c.Genesis.MaxInterestRate}
	var err error
	if strings.TrimSpace(c.Genesis.Admin) != "" {
		if g.Admin, err = crypto.DecodeAddress(c.Genesis.Admin); err != nil {
			return core.Genesis{}, fmt.Errorf("genesis: admin: %w", err)
		}
	}
	if g.Operator, err = crypto.DecodeAddress(c.Genesis.Operator); err != nil {
		return core.Genesis{}, fmt.Errorf("genesis: operator: %w", err)
	}
	if g.Oracle, err = crypto.DecodeAddress(c.Genesis.Oracle); err != nil {
		return core.Genesis{}, fmt.Errorf("genesis: oracle: %w", err)
	}
	if g.USDC, err = tokenSpec("usdc", c.Genesis.USDC); err != nil {
		return core.Genesis{}, err
	}
	if g.XLM, err = tokenSpec("xlm", c.Genesis.XLM); err != nil {
		return core.Genesis{}, err
	}
	if g.USDC.Address.Equal(g.XLM.Address) {
		return core.Genesis{}, errors.New("genesis: usdc and xlm must be distinct tokens")
	}
	return g, nil
}

func tokenSpec(field string, t Token) (core.TokenSpec, error) {
	addr, err := crypto.DecodeAddress(t.Address)
	if err != nil {
		return core.TokenSpec{}, fmt.Errorf("genesis: %s: %w", field, err)
	}
	return core.TokenSpec{Address: addr, Name: t.Name, Symbol: t.Symbol, Decimals: t.Decimals}, nil
}

// QuotaSpec converts the quota section.
func (c *Config) QuotaSpec() nativecommon.Quota {
	return nativecommon.Quota{
		MaxRequestsPerEpoch: c.Quota.MaxRequestsPerEpoch,
		MaxVolumePerEpoch:   c.Quota.MaxVolumePerEpoch,
		EpochSeconds:        c.Quota.EpochSeconds,
	}
}

// PauseSet builds the initial module pause switches.
func (c *Config) PauseSet() *nativecommon.PauseSet {
	set := nativecommon.NewPauseSet()
	set.Set(lending.ModuleName, c.Pauses.Lending)
	set.Set("token", c.Pauses.Token)
	set.Set("oracle", c.Pauses.Oracle)
	return set
}

// AdminAddress reads the admin account recorded in the keystore.
func (c *Config) AdminAddress() (crypto.Address, error) {
	return crypto.KeyFile{Path: c.AdminKeystorePath}.Address()
}

func ensureKeystore(configPath string, cfg *Config, passphrase func() (string, error)) error {
	if (crypto.KeyFile{Path: cfg.AdminKeystorePath}).Exists() {
		return nil
	}
	if err := createKeystore(cfg.AdminKeystorePath, passphrase); err != nil {
		return err
	}
	return persist(configPath, cfg)
}

func createKeystore(path string, passphrase func() (string, error)) error {
	pass, err := passphrase()
	if err != nil {
		return fmt.Errorf("admin keystore passphrase: %w", err)
	}
	if _, err := crypto.CreateKeyFile(path, pass); err != nil {
		return fmt.Errorf("create admin keystore: %w", err)
	}
	return nil
}

func createDefault(path string, passphrase func() (string, error)) (*Config, error) {
	cfg := Default()
	cfg.AdminKeystorePath = defaultKeystorePath(path)
	if err := createKeystore(cfg.AdminKeystorePath, passphrase); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "admin.keystore")
}
