package main

import (
	"context"
	"net/url"
	"testing"

	"github.com/absmach/fedsim/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestLoadServeConfig(t *testing.T) {
	cases := []struct {
		desc    string
		env     map[string]string
		port    string
		host    string
		storage string
		events  bool
	}{
		{
			desc:    "defaults",
			port:    defHTTPPort,
			host:    "localhost",
			storage: storage.TypeMemory,
		},
		{
			desc: "overrides",
			env: map[string]string{
				"FEDSIM_HTTP_HOST":      "0.0.0.0",
				"FEDSIM_HTTP_PORT":      "7001",
				"FEDSIM_STORAGE_TYPE":   storage.TypeBadger,
				"FEDSIM_EVENTS_ENABLED": "true",
				"FEDSIM_INSTANCE_ID":    "lab-1",
			},
			port:    "7001",
			host:    "0.0.0.0",
			storage: storage.TypeBadger,
			events:  true,
		},
	}

	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			for k, v := range c.env {
				t.Setenv(k, v)
			}

			cfg, err := loadServeConfig()
			require.NoError(t, err)
			assert.Equal(t, c.port, cfg.Server.Port)
			assert.Equal(t, c.host, cfg.Server.Host)
			assert.Equal(t, c.storage, cfg.Storage.Type)
			assert.Equal(t, c.events, cfg.EventsEnabled)
			assert.NotEmpty(t, cfg.InstanceID)
			if id, ok := c.env["FEDSIM_INSTANCE_ID"]; ok {
				assert.Equal(t, id, cfg.InstanceID)
			}
		})
	}
}

func TestNewTracerProvider(t *testing.T) {
	cases := []struct {
		desc  string
		url   url.URL
		noop  bool
		error bool
	}{
		{desc: "no collector", noop: true},
		{desc: "http collector", url: url.URL{Scheme: "http", Host: "localhost:4318", Path: "/v1/traces"}},
		{desc: "unsupported scheme", url: url.URL{Scheme: "udp", Host: "localhost:6831"}, error: true},
	}

	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			cfg := serveConfig{OTELURL: c.url, InstanceID: "test", TraceRatio: 1}
			tp, shutdown, err := newTracerProvider(context.Background(), cfg)
			if c.error {
				assert.Error(t, err)

				return
			}
			require.NoError(t, err)

			_, isNoop := tp.(noop.TracerProvider)
			assert.Equal(t, c.noop, isNoop)
			assert.NotNil(t, tp.Tracer(svcName))
			assert.NoError(t, shutdown(context.Background()))
		})
	}
}
