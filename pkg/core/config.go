package core

// BridgeConfig describes the two interfaces to stitch together.
type BridgeConfig struct {
	// Upper is the name of the first interface. Traffic read from it flows "down".
	Upper string `json:"upper" yaml:"upper"`

	// Lower is the name of the second interface. Traffic read from it flows "up".
	Lower string `json:"lower" yaml:"lower"`

	// Type is the device kind for both interfaces ("tun" or "tap").
	Type string `json:"type" yaml:"type"`

	// BufferSize bounds the largest packet forwarded; longer packets are truncated.
	BufferSize int `json:"buffer_size" yaml:"bufferSize"`

	// MTU, when positive, is applied to both interfaces after acquisition.
	MTU int `json:"mtu" yaml:"mtu"`

	// Up brings both interfaces administratively up after acquisition.
	Up bool `json:"up" yaml:"up"`
}

// DaemonConfig controls backgrounding.
type DaemonConfig struct {
	// Foreground disables backgrounding and enables the status line.
	Foreground bool `json:"foreground" yaml:"foreground"`

	// LogFile receives stdout and stderr of the background process.
	// If empty, output is discarded.
	LogFile string `json:"log_file" yaml:"logFile"`

	// PidFile receives the background process identifier.
	PidFile string `json:"pid_file" yaml:"pidFile"`
}

// StatsConfig controls periodic cumulative metrics logging and the health endpoint.
type StatsConfig struct {
	// MetricsInterval is a duration ("30s"); empty or "0" disables metrics logging.
	MetricsInterval string `json:"metrics_interval" yaml:"metricsInterval"`

	// MetricsFormat is "text" or "json".
	MetricsFormat string `json:"metrics_format" yaml:"metricsFormat"`

	// HealthListen is a host:port serving /health and /metrics over HTTP.
	// Empty disables the endpoint.
	HealthListen string `json:"health_listen" yaml:"healthListen"`
}

// CaptureConfig controls observation of forwarded packets.
type CaptureConfig struct {
	// File is a pcap file receiving every forwarded packet.
	File string `json:"file" yaml:"file"`

	// Trace logs a one-line summary of every forwarded packet at debug level.
	Trace bool `json:"trace" yaml:"trace"`
}
