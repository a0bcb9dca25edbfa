package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loraedge/edge-network-server/internal/adr"
	"github.com/loraedge/edge-network-server/internal/backend/gateway/semtechudp"
	"github.com/loraedge/edge-network-server/internal/band"
	"github.com/loraedge/edge-network-server/internal/config"
	"github.com/loraedge/edge-network-server/internal/device"
	"github.com/loraedge/edge-network-server/internal/downlink"
	"github.com/loraedge/edge-network-server/internal/facade"
	"github.com/loraedge/edge-network-server/internal/fcnt"
	"github.com/loraedge/edge-network-server/internal/integration"
	"github.com/loraedge/edge-network-server/internal/integration/mqtt"
	"github.com/loraedge/edge-network-server/internal/integration/nats"
	"github.com/loraedge/edge-network-server/internal/monitoring"
	"github.com/loraedge/edge-network-server/internal/storage"
	"github.com/loraedge/edge-network-server/internal/uplink"
)

func run(cmd *cobra.Command, args []string) error {
	tasks := []func() error{
		setLogLevel,
		setSyslog,
		setupBand,
		printStartMessage,
		setupDownlink,
		setupStorage,
		setupADRHandlers,
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}
	defer adr.Stop()

	facadeClient := newFacadeClient()

	provider, err := newADRProvider(facadeClient)
	if err != nil {
		return err
	}

	integ, err := newIntegration()
	if err != nil {
		return err
	}
	defer integ.Close()

	server := uplink.NewServer(uplink.Options{
		Devices:     device.NewCache(config.C.DeviceCache.TTL, config.C.DeviceCache.CleanupInterval),
		Facade:      facadeClient,
		ADR:         provider,
		Integration: integ,
		GatewayID:   config.C.NetworkServer.GatewayID,
		MaxFCntGap:  config.C.NetworkServer.MaxFCntGap,
		ADRDisabled: config.C.NetworkServer.ADR.Disabled,
	})

	backend, err := semtechudp.NewBackend(config.C.NetworkServer.UDP.Bind, config.C.NetworkServer.UDP.PendingTXAcks, server)
	if err != nil {
		return errors.Wrap(err, "new semtech udp backend error")
	}
	server.SetGateway(backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return backend.Run(ctx)
	})
	g.Go(func() error {
		return monitoring.Run(ctx, config.C)
	})
	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case s := <-sigChan:
			log.WithField("signal", s).Info("signal received")
			log.Warning("stopping edge-network-server")
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	return g.Wait()
}

func setLogLevel() error {
	log.SetLevel(log.Level(uint8(config.C.General.LogLevel)))
	return nil
}

func setupBand() error {
	if err := band.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup band error")
	}

	return nil
}

func printStartMessage() error {
	log.WithFields(log.Fields{
		"version":     version,
		"band":        config.C.NetworkServer.Band.Name,
		"instance_id": config.C.NetworkServer.InstanceID,
		"gateway_id":  config.C.NetworkServer.GatewayID,
		"udp_bind":    config.C.NetworkServer.UDP.Bind,
	}).Info("starting Edge Network Server")
	return nil
}

func setupDownlink() error {
	if err := downlink.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup downlink error")
	}
	return nil
}

// setupStorage connects to Redis, which is only required by the redis
// multi-gateway backend.
func setupStorage() error {
	if config.C.NetworkServer.ADR.MultiGatewayBackend != adr.BackendRedis {
		return nil
	}

	if err := storage.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup storage error")
	}
	return nil
}

func setupADRHandlers() error {
	if err := adr.Setup(config.C.NetworkServer.ADR.HandlerPlugins); err != nil {
		return errors.Wrap(err, "setup adr handlers error")
	}
	return nil
}

func newFacadeClient() facade.Client {
	if config.C.Facade.Server == "" {
		log.Warning("no facade server configured, only cached devices will be served")
		return nil
	}

	return facade.NewClient(
		config.C.Facade.Server,
		config.C.Facade.AuthCode,
		config.C.Facade.Timeout,
		config.C.Facade.RetryMax,
	)
}

func newADRProvider(facadeClient facade.Client) (*adr.Provider, error) {
	adrConf := config.C.NetworkServer.ADR

	opts := adr.ProviderOptions{
		Options: adr.Options{
			Handler:            adr.GetHandler(adrConf.Handler),
			InstallationMargin: adrConf.InstallationMargin,
		},
		Backend:          adrConf.MultiGatewayBackend,
		LocalCoordinator: fcnt.NewCoordinator(fcnt.NewMemoryStore(), config.C.NetworkServer.DeduplicationWindow),
	}

	switch adrConf.MultiGatewayBackend {
	case adr.BackendRedis:
		lockerOpts := storage.RedisLockerOptions{
			InstanceID:   config.C.NetworkServer.InstanceID,
			TTL:          adrConf.LockTTL,
			PollInterval: adrConf.LockPollInterval,
			Timeout:      adrConf.LockTimeout,
		}
		if err := lockerOpts.Validate(); err != nil {
			return nil, errors.Wrap(err, "network_server.adr lock config error")
		}

		locker := storage.NewRedisLocker(storage.RedisClient(), lockerOpts)
		opts.RedisStore = adr.NewRedisTableStore(storage.RedisClient(), locker)
		opts.RemoteCoordinator = fcnt.NewCoordinator(
			fcnt.NewRedisStore(storage.RedisClient(), locker),
			config.C.NetworkServer.DeduplicationWindow,
		)
	case adr.BackendFacade:
		if facadeClient == nil {
			return nil, errors.New("facade adr backend requires facade.server to be configured")
		}
		opts.FacadeClient = facadeClient
	}

	provider, err := adr.NewProvider(opts)
	if err != nil {
		return nil, errors.Wrap(err, "new adr provider error")
	}
	return provider, nil
}

func newIntegration() (integration.Integration, error) {
	var next integration.Integration
	intConf := config.C.Integration

	switch intConf.Type {
	case "", "log":
		return integration.LogIntegration{}, nil
	case "mqtt":
		i, err := mqtt.New(mqtt.Config{
			Server:        intConf.MQTT.Server,
			Username:      intConf.MQTT.Username,
			Password:      intConf.MQTT.Password,
			QOS:           intConf.MQTT.QOS,
			CleanSession:  intConf.MQTT.CleanSession,
			ClientID:      intConf.MQTT.ClientID,
			TopicTemplate: intConf.MQTT.TopicTemplate,
		})
		if err != nil {
			return nil, errors.Wrap(err, "setup mqtt integration error")
		}
		next = i
	case "nats":
		i, err := nats.New(nats.Config{
			URL:             intConf.NATS.URL,
			SubjectTemplate: intConf.NATS.SubjectTemplate,
		})
		if err != nil {
			return nil, errors.Wrap(err, "setup nats integration error")
		}
		next = i
	default:
		return nil, errors.Errorf("unknown integration type: %s", intConf.Type)
	}

	return integration.NewRetryIntegration(next, intConf.RetryBudget, intConf.RetryInterval), nil
}
