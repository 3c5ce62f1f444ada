package core

import (
	"os"
	"path/filepath"
	"testing"

	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
api_keys = ["admin", { value = "fixed" }, { basic = ["plan"] }]

[server]
port = 3002
static_path = "./public"

[[function]]
name = "hello"
runtime = "nodejs20.x"
handler = "src/handler.hello"
timeout_s = 2.5

  [[function.event]]
    [function.event.http]
    method = "GET"
    path = "/hello"

[[route]]
methods = ["ANY"]
path = "/ping/"
  [route.handler]
  type = "static"
  body = "pong"
`

func TestLoadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "steeze.toml")
	require.NoError(t, os.WriteFile(p, []byte(sampleManifest), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)

	assert.Equal(t, 3002, cfg.Server.Port)
	assert.Equal(t, "./public", cfg.Server.StaticPath)
	require.Len(t, cfg.Functions, 1)
	assert.Equal(t, 2.5, cfg.Functions[0].TimeoutS)
	require.Len(t, cfg.Functions[0].Events, 1)
	assert.Equal(t, "/hello", cfg.Functions[0].Events[0].HTTP.Path)
	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, "/ping", cfg.Routes[0].Path)
	assert.Equal(t, manifest.HandlerStatic, cfg.Routes[0].Handler.Type)
	assert.Len(t, cfg.APIKeys, 3)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = ParseConfig([]byte("[server\nport = 1"))
	require.Error(t, err)

	_, err = ParseConfig([]byte("[[function]]\nname = \"x\"\n"))
	require.ErrorContains(t, err, "runtime is required")
}
