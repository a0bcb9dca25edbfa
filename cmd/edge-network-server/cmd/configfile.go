package cmd

import (
	"os"
	"text/template"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/loraedge/edge-network-server/internal/config"
)

const configTemplate = `[general]
# Log level
#
# debug=5, info=4, warning=3, error=2, fatal=1, panic=0
log_level={{ .General.LogLevel }}

# Log to syslog.
#
# When set to true, log messages are being written to syslog.
log_to_syslog={{ .General.LogToSyslog }}


# Redis settings
#
# Redis is only used when the redis multi-gateway ADR backend is configured.
[redis]
# Server address or addresses.
#
# Set multiple addresses when connecting to a cluster.
servers=[{{ range $index, $element := .Redis.Servers }}{{ if $index }}, {{ end }}"{{ $element }}"{{ end }}
]

# Password.
#
# Set the password when connecting to Redis requires password authentication.
password="{{ .Redis.Password }}"

# Database index.
#
# By default, this can be a number between 0-15.
database={{ .Redis.Database }}

# Redis Cluster.
#
# Set this to true when the provided URLs are pointing to a Redis Cluster
# instance.
cluster={{ .Redis.Cluster }}

# Master name.
#
# Set the master name when the provided URLs are pointing to a Redis Sentinel
# instance.
master_name="{{ .Redis.MasterName }}"

# Connection pool size.
pool_size={{ .Redis.PoolSize }}

# TLS enabled.
tls_enabled={{ .Redis.TLSEnabled }}


# Network-server settings.
[network_server]
# Gateway ID.
#
# The EUI of the gateway this instance is attached to. Devices pinned to this
# gateway are handled by the local ADR manager. When left blank, the EUI of
# the gateway sending the uplink is used.
gateway_id="{{ .NetworkServer.GatewayID }}"

# Instance ID.
#
# Used as owner prefix of the distributed locks. Defaults to the hostname.
instance_id="{{ .NetworkServer.InstanceID }}"

# Deduplication window.
#
# Copies of the same frame received through other gateways within this
# duration still contribute their SNR to the ADR history.
deduplication_window="{{ .NetworkServer.DeduplicationWindow }}"

# Max frame-counter gap.
#
# Uplinks with a frame-counter gap larger than this value are rejected.
max_fcnt_gap={{ .NetworkServer.MaxFCntGap }}

  # LoRaWAN regional band configuration.
  [network_server.band]
  # LoRaWAN band to use.
  #
  # Valid values are:
  # * AS923
  # * AU915
  # * CN470
  # * CN779
  # * EU433
  # * EU868
  # * IN865
  # * KR920
  # * US915
  name="{{ .NetworkServer.Band.Name }}"

  # Enforce 400ms downlink dwell time.
  downlink_dwell_time_400ms={{ .NetworkServer.Band.DownlinkDwellTime400ms }}

  # Enforce repeater compatibility.
  repeater_compatible={{ .NetworkServer.Band.RepeaterCompatible }}


  # LoRaWAN network related settings.
  [network_server.network_settings]
  # RX1 delay (1 - 15 seconds).
  rx1_delay={{ .NetworkServer.NetworkSettings.RX1Delay }}

  # RX1 data-rate offset
  rx1_dr_offset={{ .NetworkServer.NetworkSettings.RX1DROffset }}

  # Downlink TX Power (dBm)
  #
  # When set to -1, the downlink TX Power from the configured band will
  # be used.
  downlink_tx_power={{ .NetworkServer.NetworkSettings.DownlinkTXPower }}


  # Semtech UDP packet-forwarder listener.
  [network_server.udp]
  # ip:port to bind the UDP listener to.
  bind="{{ .NetworkServer.UDP.Bind }}"

  # Number of pending downlinks remembered for TX_ACK correlation.
  pending_tx_acks={{ .NetworkServer.UDP.PendingTXAcks }}


  # Adaptive data-rate.
  [network_server.adr]
  # Disable ADR.
  disabled={{ .NetworkServer.ADR.Disabled }}

  # Installation margin (dB) used by the ADR engine.
  #
  # A higher number means that the network-server will keep more margin,
  # resulting in a lower data-rate but decreasing the chance that the
  # device gets disconnected because it is unable to reach one of the
  # surrounded gateways.
  installation_margin={{ .NetworkServer.ADR.InstallationMargin }}

  # ADR handler.
  #
  # The ID of the ADR algorithm to use. The built-in algorithm is "default".
  handler="{{ .NetworkServer.ADR.Handler }}"

  # ADR handler plugins.
  #
  # Paths to ADR plugin binaries, loaded on startup.
  handler_plugins=[{{ range $index, $element := .NetworkServer.ADR.HandlerPlugins }}{{ if $index }}, {{ end }}"{{ $element }}"{{ end }}]

  # Multi-gateway backend.
  #
  # Backend handling the devices which are not pinned to a single gateway:
  # * ""       - all devices are handled in-memory
  # * "redis"  - ADR state and frame-counters are shared through Redis
  # * "facade" - ADR and frame-counters are delegated to the facade
  multi_gateway_backend="{{ .NetworkServer.ADR.MultiGatewayBackend }}"

  # Redis lock TTL, poll interval and timeout.
  #
  # The lock timeout must be shorter than the lock TTL.
  lock_ttl="{{ .NetworkServer.ADR.LockTTL }}"
  lock_poll_interval="{{ .NetworkServer.ADR.LockPollInterval }}"
  lock_timeout="{{ .NetworkServer.ADR.LockTimeout }}"


# Device facade.
#
# The HTTP API serving the device session-keys, OTAA and (optionally) ADR.
[facade]
# Base URL of the facade (e.g. http://localhost:8080/api).
server="{{ .Facade.Server }}"

# Authorization code.
auth_code="{{ .Facade.AuthCode }}"

# Request timeout.
timeout="{{ .Facade.Timeout }}"

# Max number of retries.
retry_max={{ .Facade.RetryMax }}


# Device session cache.
[device_cache]
# Duration after which an idle device session is evicted.
#
# Every uplink refreshes the expiration. When set to 0, device sessions are
# kept until the device (re)joins.
ttl="{{ .DeviceCache.TTL }}"

# Interval of the expired entries cleanup.
cleanup_interval="{{ .DeviceCache.CleanupInterval }}"


# Application integration.
[integration]
# Integration type.
#
# Valid values are:
# * log
# * mqtt
# * nats
type="{{ .Integration.Type }}"

# Number of delivery attempts per event.
retry_budget={{ .Integration.RetryBudget }}

# Interval between delivery attempts.
retry_interval="{{ .Integration.RetryInterval }}"

  # MQTT integration.
  [integration.mqtt]
  server="{{ .Integration.MQTT.Server }}"
  username="{{ .Integration.MQTT.Username }}"
  password="{{ .Integration.MQTT.Password }}"
  qos={{ .Integration.MQTT.QOS }}
  clean_session={{ .Integration.MQTT.CleanSession }}
  client_id="{{ .Integration.MQTT.ClientID }}"

  # Topic template. Available fields: .DevEUI and .EventType.
  topic_template="{{ .Integration.MQTT.TopicTemplate }}"

  # NATS integration.
  [integration.nats]
  url="{{ .Integration.NATS.URL }}"

  # Subject template. Available fields: .DevEUI and .EventType.
  subject_template="{{ .Integration.NATS.SubjectTemplate }}"


# Monitoring settings.
[monitoring]
# IP:port to bind the monitoring endpoint to.
#
# When left blank, the monitoring endpoint will be disabled.
bind="{{ .Monitoring.Bind }}"

# Prometheus metrics endpoint (/metrics).
prometheus_endpoint={{ .Monitoring.PrometheusEndpoint }}

# Healthcheck endpoint (/health).
healthcheck_endpoint={{ .Monitoring.HealthcheckEndpoint }}
`

var configCmd = &cobra.Command{
	Use:   "configfile",
	Short: "Print the Edge Network Server configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := template.Must(template.New("config").Parse(configTemplate))
		err := t.Execute(os.Stdout, &config.C)
		if err != nil {
			return errors.Wrap(err, "execute config template error")
		}
		return nil
	},
}
