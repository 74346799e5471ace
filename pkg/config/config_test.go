package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) (string, func()) {
	dir, err := ioutil.TempDir("", "easy-deploy-config")
	require.NoError(t, err)
	path := filepath.Join(dir, ConfigName)
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0600))
	return path, func() { os.RemoveAll(dir) }
}

func TestLoadMergesDefaults(t *testing.T) {
	path, cleanup := writeConfig(t, `
easyDeployConfigVersion: v1
profile: dev
elbRegion: eu-west-1
pollInterval: 5s
rebootDelay: 120
logFormat: json
`)
	defer cleanup()

	c, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "dev", c.Profile)
	assert.Equal(t, DefaultRegion, c.OpsWorksRegion)
	assert.Equal(t, "eu-west-1", c.ELBRegion)
	assert.Equal(t, 5*time.Second, c.PollInterval.Duration)
	assert.Equal(t, 120*time.Second, c.RebootDelay.Duration)
	assert.Equal(t, 20*time.Second, c.DrainFallback.Duration)
	assert.Equal(t, int64(2), c.HealthMargin)
	assert.Equal(t, LogFormatJSON, c.LogFormat)
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load("/nonexistent/.easy-deploy.yaml", false)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), c)

	_, err = Load("/nonexistent/.easy-deploy.yaml", true)
	assert.Error(t, err)
}

func TestLoadZeroPollIntervalUsesDefault(t *testing.T) {
	path, cleanup := writeConfig(t, "easyDeployConfigVersion: v1\npollInterval: 0s\n")
	defer cleanup()

	c, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, c.PollInterval.Duration)
	assert.NoError(t, c.IsValid())
}

func TestLoadInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"no version":      "profile: dev\n",
		"wrong version":   "easyDeployConfigVersion: v2\n",
		"log format":      "easyDeployConfigVersion: v1\nlogFormat: xml\n",
		"bad duration":    "easyDeployConfigVersion: v1\npollInterval: soon\n",
		"negative burst":  "easyDeployConfigVersion: v1\napiBurst: -1\n",
		"negative poll":   "easyDeployConfigVersion: v1\npollInterval: -20s\n",
		"negative drain":  "easyDeployConfigVersion: v1\ndrainFallback: -1s\n",
		"negative reboot": "easyDeployConfigVersion: v1\nrebootDelay: -5\n",
		"negative margin": "easyDeployConfigVersion: v1\nhealthMargin: -1\n",
	} {
		t.Run(name, func(t *testing.T) {
			path, cleanup := writeConfig(t, content)
			defer cleanup()
			_, err := Load(path, true)
			assert.Error(t, err)
		})
	}
}
