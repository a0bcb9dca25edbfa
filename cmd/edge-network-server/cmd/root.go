package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loraedge/edge-network-server/internal/config"
)

var (
	cfgFile string
	version string
)

var rootCmd = &cobra.Command{
	Use:   "edge-network-server",
	Short: "Edge Network Server",
	Long: `Edge Network Server is a LoRaWAN Network Server running next to a single packet-forwarder gateway.
	It terminates the Semtech UDP protocol, authenticates and deduplicates the uplinks and performs ADR.`,
	RunE: run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to configuration file (optional)")
	rootCmd.PersistentFlags().Int("log-level", 4, "debug=5, info=4, error=2, fatal=1, panic=0")

	viper.BindPFlag("general.log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	// default values
	viper.SetDefault("redis.servers", []string{"localhost:6379"})
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("network_server.deduplication_window", 10*time.Second)
	viper.SetDefault("network_server.max_fcnt_gap", 16384)
	viper.SetDefault("network_server.band.name", "EU868")

	viper.SetDefault("network_server.network_settings.rx1_delay", 1)
	viper.SetDefault("network_server.network_settings.downlink_tx_power", -1)

	viper.SetDefault("network_server.udp.bind", "0.0.0.0:1700")
	viper.SetDefault("network_server.udp.pending_tx_acks", 256)

	viper.SetDefault("network_server.adr.installation_margin", 10)
	viper.SetDefault("network_server.adr.handler", "default")
	viper.SetDefault("network_server.adr.lock_ttl", 10*time.Second)
	viper.SetDefault("network_server.adr.lock_poll_interval", 20*time.Millisecond)
	viper.SetDefault("network_server.adr.lock_timeout", 5*time.Second)

	viper.SetDefault("facade.timeout", 5*time.Second)
	viper.SetDefault("facade.retry_max", 3)

	viper.SetDefault("device_cache.ttl", time.Duration(0))
	viper.SetDefault("device_cache.cleanup_interval", 10*time.Minute)

	viper.SetDefault("integration.type", "log")
	viper.SetDefault("integration.retry_budget", 3)
	viper.SetDefault("integration.retry_interval", time.Second)
	viper.SetDefault("integration.mqtt.server", "tcp://localhost:1883")
	viper.SetDefault("integration.mqtt.clean_session", true)
	viper.SetDefault("integration.mqtt.topic_template", "application/device/{{ .DevEUI }}/event/{{ .EventType }}")
	viper.SetDefault("integration.nats.url", "nats://localhost:4222")
	viper.SetDefault("integration.nats.subject_template", "application.device.{{ .DevEUI }}.event.{{ .EventType }}")

	viper.SetDefault("monitoring.prometheus_endpoint", true)
	viper.SetDefault("monitoring.healthcheck_endpoint", true)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute executes the root command.
func Execute(v string) {
	version = v

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func initConfig() {
	config.Version = version

	if cfgFile != "" {
		b, err := os.ReadFile(cfgFile)
		if err != nil {
			log.WithError(err).WithField("config", cfgFile).Fatal("error loading config file")
		}
		viper.SetConfigType("toml")
		if err := viper.ReadConfig(bytes.NewBuffer(b)); err != nil {
			log.WithError(err).WithField("config", cfgFile).Fatal("error loading config file")
		}
	} else {
		viper.SetConfigName("edge-network-server")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/edge-network-server")
		viper.AddConfigPath("/etc/edge-network-server")
		if err := viper.ReadInConfig(); err != nil {
			switch err.(type) {
			case viper.ConfigFileNotFoundError:
				log.Warning("No configuration file found, using defaults.")
			default:
				log.WithError(err).Fatal("read configuration file error")
			}
		}
	}

	viperBindEnvs(config.C)

	viperHooks := mapstructure.ComposeDecodeHookFunc(
		viperDecodeJSONSlice,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := viper.Unmarshal(&config.C, viper.DecodeHook(viperHooks)); err != nil {
		log.WithError(err).Fatal("unmarshal config error")
	}

	if config.C.NetworkServer.InstanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.WithError(err).Fatal("get hostname error")
		}
		config.C.NetworkServer.InstanceID = hostname
	}

	if config.C.Redis.URL != "" {
		opt, err := redis.ParseURL(config.C.Redis.URL)
		if err != nil {
			log.WithError(err).Fatal("redis url error")
		}

		config.C.Redis.Servers = []string{opt.Addr}
		config.C.Redis.Database = opt.DB
		config.C.Redis.Password = opt.Password
	}
}

func viperBindEnvs(iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)
	for i := 0; i < ift.NumField(); i++ {
		v := ifv.Field(i)
		t := ift.Field(i)
		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			tv = strings.ToLower(t.Name)
		}
		if tv == "-" {
			continue
		}

		switch v.Kind() {
		case reflect.Struct:
			viperBindEnvs(v.Interface(), append(parts, tv)...)
		default:
			// Bash doesn't allow env variable names with a dot so
			// bind the double underscore version.
			keyDot := strings.Join(append(parts, tv), ".")
			keyUnderscore := strings.Join(append(parts, tv), "__")
			viper.BindEnv(keyDot, strings.ToUpper(keyUnderscore))
		}
	}
}

func viperDecodeJSONSlice(rf reflect.Kind, rt reflect.Kind, data interface{}) (interface{}, error) {
	// input must be a string and destination must be a slice
	if rf != reflect.String || rt != reflect.Slice {
		return data, nil
	}

	raw := data.(string)

	// this decoder expects a JSON list of strings
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return data, nil
	}

	var out []string
	err := json.Unmarshal([]byte(raw), &out)

	return out, err
}
