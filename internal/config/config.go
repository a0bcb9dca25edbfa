package config

import (
	"time"

	"github.com/brocaar/lorawan/band"
)

// Version defines the Edge Network Server version.
var Version string

// Config defines the configuration structure.
type Config struct {
	General struct {
		LogLevel    int  `mapstructure:"log_level"`
		LogToSyslog bool `mapstructure:"log_to_syslog"`
	} `mapstructure:"general"`

	Redis struct {
		URL        string   `mapstructure:"url"` // deprecated
		Servers    []string `mapstructure:"servers"`
		Cluster    bool     `mapstructure:"cluster"`
		MasterName string   `mapstructure:"master_name"`
		PoolSize   int      `mapstructure:"pool_size"`
		Password   string   `mapstructure:"password"`
		Database   int      `mapstructure:"database"`
		TLSEnabled bool     `mapstructure:"tls_enabled"`
	} `mapstructure:"redis"`

	NetworkServer struct {
		// GatewayID identifies the gateway this instance is attached to. When
		// empty, the EUI of the gateway sending the uplink is used.
		GatewayID string `mapstructure:"gateway_id"`

		// InstanceID is used as owner prefix of the distributed locks.
		InstanceID string `mapstructure:"instance_id"`

		DeduplicationWindow time.Duration `mapstructure:"deduplication_window"`
		MaxFCntGap          uint32        `mapstructure:"max_fcnt_gap"`

		Band struct {
			Name                   band.Name `mapstructure:"name"`
			DownlinkDwellTime400ms bool      `mapstructure:"downlink_dwell_time_400ms"`
			RepeaterCompatible     bool      `mapstructure:"repeater_compatible"`
		} `mapstructure:"band"`

		NetworkSettings struct {
			RX1Delay        int `mapstructure:"rx1_delay"`
			RX1DROffset     int `mapstructure:"rx1_dr_offset"`
			DownlinkTXPower int `mapstructure:"downlink_tx_power"`
		} `mapstructure:"network_settings"`

		UDP struct {
			Bind string `mapstructure:"bind"`

			// PendingTXAcks defines how many downlink tokens are remembered
			// for TX_ACK correlation.
			PendingTXAcks int `mapstructure:"pending_tx_acks"`
		} `mapstructure:"udp"`

		ADR struct {
			Disabled            bool          `mapstructure:"disabled"`
			InstallationMargin  float64       `mapstructure:"installation_margin"`
			Handler             string        `mapstructure:"handler"`
			HandlerPlugins      []string      `mapstructure:"handler_plugins"`
			MultiGatewayBackend string        `mapstructure:"multi_gateway_backend"`
			LockTTL             time.Duration `mapstructure:"lock_ttl"`
			LockPollInterval    time.Duration `mapstructure:"lock_poll_interval"`
			LockTimeout         time.Duration `mapstructure:"lock_timeout"`
		} `mapstructure:"adr"`
	} `mapstructure:"network_server"`

	Facade struct {
		Server   string        `mapstructure:"server"`
		AuthCode string        `mapstructure:"auth_code"`
		Timeout  time.Duration `mapstructure:"timeout"`
		RetryMax int           `mapstructure:"retry_max"`
	} `mapstructure:"facade"`

	DeviceCache struct {
		TTL             time.Duration `mapstructure:"ttl"`
		CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	} `mapstructure:"device_cache"`

	Integration struct {
		Type          string        `mapstructure:"type"`
		RetryBudget   int           `mapstructure:"retry_budget"`
		RetryInterval time.Duration `mapstructure:"retry_interval"`

		MQTT struct {
			Server        string `mapstructure:"server"`
			Username      string `mapstructure:"username"`
			Password      string `mapstructure:"password"`
			QOS           uint8  `mapstructure:"qos"`
			CleanSession  bool   `mapstructure:"clean_session"`
			ClientID      string `mapstructure:"client_id"`
			TopicTemplate string `mapstructure:"topic_template"`
		} `mapstructure:"mqtt"`

		NATS struct {
			URL             string `mapstructure:"url"`
			SubjectTemplate string `mapstructure:"subject_template"`
		} `mapstructure:"nats"`
	} `mapstructure:"integration"`

	Monitoring struct {
		Bind                string `mapstructure:"bind"`
		PrometheusEndpoint  bool   `mapstructure:"prometheus_endpoint"`
		HealthcheckEndpoint bool   `mapstructure:"healthcheck_endpoint"`
	} `mapstructure:"monitoring"`
}

// SpreadFactorToRequiredSNRTable contains the required SNR to demodulate a
// LoRa frame for the given spreadfactor.
// These values are taken from the SX1276 datasheet.
var SpreadFactorToRequiredSNRTable = map[int]float64{
	6:  -5,
	7:  -7.5,
	8:  -10,
	9:  -12.5,
	10: -15,
	11: -17.5,
	12: -20,
}

// C holds the global configuration.
var C Config
