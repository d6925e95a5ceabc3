package extid

import (
	"time"
)

// Config holds every setting the ledger and its binaries need.
type Config struct {
	Database DatabaseConfig `json:"database"`
	Ledger   LedgerConfig   `json:"ledger"`
	Elements ElementsConfig `json:"elements"`
	Audit    AuditConfig    `json:"audit"`
	Logging  LoggingConfig  `json:"logging"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"sslMode"`
	MaxConnections  int           `json:"maxConnections"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime"`
	Timeout         time.Duration `json:"timeout"`
	// UseIAMAuth swaps Password for a generated Aurora DSQL auth token.
	UseIAMAuth bool       `json:"useIamAuth"`
	Region     string     `json:"region"`
	TableNames TableNames `json:"tableNames"`
}

type TableNames struct {
	Mappings string `json:"mappings"`
	Systems  string `json:"systems"`
	// Elements is optional; when empty the element store is not backed by Postgres.
	Elements string `json:"elements"`
}

// LedgerConfig controls reconciliation behaviour.
type LedgerConfig struct {
	// StrictCreate makes AddExternalIdentifier fail with a conflict instead of
	// replacing an existing entry for the same (element, system) key.
	StrictCreate     bool `json:"strictCreate"`
	ValidateElements bool `json:"validateElements"`
	DefaultPageSize  int  `json:"defaultPageSize"`
	MaxPageSize      int  `json:"maxPageSize"`
	ShardCount       int  `json:"shardCount"`
}

// ElementsConfig guards calls to the metadata repository.
type ElementsConfig struct {
	BreakerThreshold    int           `json:"breakerThreshold"`
	BreakerWindow       time.Duration `json:"breakerWindow"`
	BreakerOpenDuration time.Duration `json:"breakerOpenDuration"`
	Timeout             time.Duration `json:"timeout"`
}

// AuditConfig configures the S3 snapshot exporter.
type AuditConfig struct {
	Bucket       string `json:"bucket"`
	Prefix       string `json:"prefix"`
	Region       string `json:"region"`
	Endpoint     string `json:"endpoint"`
	UsePathStyle bool   `json:"usePathStyle"`
	AccessKey    string `json:"accessKey"`
	SecretKey    string `json:"secretKey"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxConnections:  25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			Timeout:         30 * time.Second,
			TableNames: TableNames{
				Mappings: "external_identifier_mapping",
				Systems:  "external_system",
			},
		},
		Ledger: LedgerConfig{
			StrictCreate:     false,
			ValidateElements: false,
			DefaultPageSize:  50,
			MaxPageSize:      500,
			ShardCount:       32,
		},
		Elements: ElementsConfig{
			BreakerThreshold:    5,
			BreakerWindow:       30 * time.Second,
			BreakerOpenDuration: 15 * time.Second,
			Timeout:             5 * time.Second,
		},
		Audit: AuditConfig{
			Prefix: "extid-audit",
			Region: "us-east-1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.MaxConnections <= 0 {
		return &ConfigError{Field: "database.maxConnections", Message: "must be greater than 0"}
	}

	if c.Database.TableNames.Mappings == "" {
		return &ConfigError{Field: "database.tableNames.mappings", Message: "must not be empty"}
	}

	if c.Database.TableNames.Systems == "" {
		return &ConfigError{Field: "database.tableNames.systems", Message: "must not be empty"}
	}

	if c.Database.UseIAMAuth && c.Database.Region == "" {
		return &ConfigError{Field: "database.region", Message: "required when useIamAuth is enabled"}
	}

	if c.Ledger.DefaultPageSize <= 0 {
		return &ConfigError{Field: "ledger.defaultPageSize", Message: "must be greater than 0"}
	}

	if c.Ledger.MaxPageSize < c.Ledger.DefaultPageSize {
		return &ConfigError{Field: "ledger.maxPageSize", Message: "must be greater than or equal to defaultPageSize"}
	}

	if c.Ledger.ShardCount <= 0 {
		return &ConfigError{Field: "ledger.shardCount", Message: "must be greater than 0"}
	}

	if c.Elements.BreakerThreshold <= 0 {
		return &ConfigError{Field: "elements.breakerThreshold", Message: "must be greater than 0"}
	}

	if c.Audit.AccessKey != "" && c.Audit.SecretKey == "" {
		return &ConfigError{Field: "audit.secretKey", Message: "required when accessKey is set"}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
