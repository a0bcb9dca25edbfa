package cmd

import (
	"bytes"
	"reflect"
	"testing"
	"text/template"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/loraedge/edge-network-server/internal/adr"
	"github.com/loraedge/edge-network-server/internal/config"
	"github.com/loraedge/edge-network-server/internal/integration"
	"github.com/loraedge/edge-network-server/internal/storage"
)

func TestConfigTemplate(t *testing.T) {
	assert := require.New(t)

	var c config.Config
	c.Redis.Servers = []string{"localhost:6379"}
	c.NetworkServer.Band.Name = "EU868"
	c.NetworkServer.DeduplicationWindow = 10 * time.Second
	c.NetworkServer.ADR.HandlerPlugins = []string{"/opt/plugins/a", "/opt/plugins/b"}
	c.Integration.MQTT.TopicTemplate = "application/device/{{ .DevEUI }}/event/{{ .EventType }}"

	var b bytes.Buffer
	tmpl := template.Must(template.New("config").Parse(configTemplate))
	assert.NoError(tmpl.Execute(&b, &c))

	out := b.String()
	assert.Contains(out, `name="EU868"`)
	assert.Contains(out, `deduplication_window="10s"`)
	assert.Contains(out, `handler_plugins=["/opt/plugins/a", "/opt/plugins/b"]`)
	assert.Contains(out, `topic_template="application/device/{{ .DevEUI }}/event/{{ .EventType }}"`)
}

func TestViperDecodeJSONSlice(t *testing.T) {
	tests := []struct {
		name     string
		from     reflect.Kind
		to       reflect.Kind
		data     interface{}
		expected interface{}
	}{
		{"json list", reflect.String, reflect.Slice, `["a","b"]`, []string{"a", "b"}},
		{"comma separated", reflect.String, reflect.Slice, "a,b", "a,b"},
		{"not a slice", reflect.String, reflect.String, `["a"]`, `["a"]`},
	}

	for _, tst := range tests {
		t.Run(tst.name, func(t *testing.T) {
			assert := require.New(t)
			out, err := viperDecodeJSONSlice(tst.from, tst.to, tst.data)
			assert.NoError(err)
			assert.Equal(tst.expected, out)
		})
	}
}

func TestNewIntegration(t *testing.T) {
	assert := require.New(t)
	defer func() { config.C = config.Config{} }()

	config.C.Integration.Type = "log"
	i, err := newIntegration()
	assert.NoError(err)
	assert.Equal(integration.LogIntegration{}, i)

	config.C.Integration.Type = "kafka"
	_, err = newIntegration()
	assert.Error(err)
}

func TestNewADRProvider(t *testing.T) {
	assert := require.New(t)
	defer func() { config.C = config.Config{} }()

	config.C.NetworkServer.ADR.MultiGatewayBackend = adr.BackendLocal
	p, err := newADRProvider(nil)
	assert.NoError(err)
	assert.NotNil(p)

	config.C.NetworkServer.ADR.MultiGatewayBackend = adr.BackendFacade
	_, err = newADRProvider(nil)
	assert.Error(err)

	config.C.NetworkServer.ADR.MultiGatewayBackend = adr.BackendRedis
	config.C.NetworkServer.ADR.LockTTL = time.Second
	config.C.NetworkServer.ADR.LockTimeout = 5 * time.Second
	_, err = newADRProvider(nil)
	assert.Equal(storage.ErrInvalidLockTimeout, errors.Cause(err))
}
