package domain

// Config represents the application configuration
type Config struct {
	Host           string           `toml:"host" mapstructure:"host"`
	Port           int              `toml:"port" mapstructure:"port"`
	BaseURL        string           `toml:"baseUrl" mapstructure:"baseUrl"`
	VaultSecret    string           `toml:"vaultSecret" mapstructure:"vaultSecret"`
	Issuer         string           `toml:"issuer" mapstructure:"issuer"`
	LogLevel       string           `toml:"logLevel" mapstructure:"logLevel"`
	LogPath        string           `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize     int              `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups  int              `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir        string           `toml:"dataDir" mapstructure:"dataDir"`
	MetricsEnabled bool             `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	Keys           KeysConfig       `toml:"keys" mapstructure:"keys"`
	Licensing      LicensingConfig  `toml:"licensing" mapstructure:"licensing"`
	Activation     ActivationConfig `toml:"activation" mapstructure:"activation"`
	HTTPTimeouts   HTTPTimeouts     `toml:"httpTimeouts" mapstructure:"httpTimeouts"`
}

// HTTPTimeouts represents HTTP server timeout configuration
type HTTPTimeouts struct {
	ReadTimeout  int `toml:"readTimeout" mapstructure:"readTimeout"`   // seconds
	WriteTimeout int `toml:"writeTimeout" mapstructure:"writeTimeout"` // seconds
	IdleTimeout  int `toml:"idleTimeout" mapstructure:"idleTimeout"`   // seconds
}

// KeysConfig controls how new product key pairs are generated
type KeysConfig struct {
	Algorithm string `toml:"algorithm" mapstructure:"algorithm"`
	Size      int    `toml:"size" mapstructure:"size"`
}

type LicensingConfig struct {
	DefaultValidityDays int `toml:"defaultValidityDays" mapstructure:"defaultValidityDays"`
}

// ActivationConfig holds the activation server timing.
// Durations use Go duration syntax, e.g. "24h" or "15m".
type ActivationConfig struct {
	HeartbeatStaleness string `toml:"heartbeatStaleness" mapstructure:"heartbeatStaleness"`
	SlotStaleness      string `toml:"slotStaleness" mapstructure:"slotStaleness"`
	SweepInterval      string `toml:"sweepInterval" mapstructure:"sweepInterval"`
}
