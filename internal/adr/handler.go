package adr

import (
	"os/exec"
	"sync"

	"github.com/hashicorp/go-plugin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/adr"
)

var (
	mu            sync.RWMutex
	handlers      = map[string]adr.Handler{}
	pluginClients []*plugin.Client
)

func init() {
	if err := register(&DefaultHandler{}); err != nil {
		panic(err)
	}
}

// Setup loads the given ADR handler plugins.
func Setup(pluginPaths []string) error {
	for _, p := range pluginPaths {
		log.WithField("path", p).Info("adr: loading adr plugin")

		client := plugin.NewClient(&plugin.ClientConfig{
			HandshakeConfig: adr.HandshakeConfig,
			Plugins: map[string]plugin.Plugin{
				"handler": &adr.HandlerPlugin{},
			},
			Cmd: exec.Command(p),
		})

		rpcClient, err := client.Client()
		if err != nil {
			client.Kill()
			return errors.Wrap(err, "get plugin client error")
		}

		raw, err := rpcClient.Dispense("handler")
		if err != nil {
			client.Kill()
			return errors.Wrap(err, "dispense plugin error")
		}

		h, ok := raw.(adr.Handler)
		if !ok {
			client.Kill()
			return errors.Errorf("expected adr.Handler, got: %T", raw)
		}

		if err := register(h); err != nil {
			client.Kill()
			return err
		}

		mu.Lock()
		pluginClients = append(pluginClients, client)
		mu.Unlock()
	}

	return nil
}

// Stop stops the ADR plugins.
func Stop() {
	mu.Lock()
	defer mu.Unlock()

	for _, c := range pluginClients {
		c.Kill()
	}
	pluginClients = nil
}

// GetHandler returns the handler for the given ID. The default handler is
// returned when the ID is empty or unknown.
func GetHandler(id string) adr.Handler {
	mu.RLock()
	defer mu.RUnlock()

	if h, ok := handlers[id]; ok {
		return h
	}

	if id != "" {
		log.WithField("id", id).Warning("adr: unknown adr handler, falling back to default")
	}
	return handlers["default"]
}

func register(h adr.Handler) error {
	id, err := h.ID()
	if err != nil {
		return errors.Wrap(err, "get handler id error")
	}
	name, err := h.Name()
	if err != nil {
		return errors.Wrap(err, "get handler name error")
	}

	mu.Lock()
	handlers[id] = h
	mu.Unlock()

	log.WithFields(log.Fields{
		"id":   id,
		"name": name,
	}).Debug("adr: adr handler registered")

	return nil
}
