package common

import (
	"bytes"
	"testing"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestViperConfigParsing(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)
	viper.Reset()
	defer viper.Reset()

	validate := validator.New()

	// Case 0: parse config with no defaults in place
	{
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 1: load the configs
	{
		var cfg SystemConfig
		InstallDefaultConfigValues()
		assert.Nil(viper.Unmarshal(&cfg))
		assert.Nil(validate.Struct(&cfg))
		assert.Equal(900, cfg.Session.AccessTTL)
		assert.Equal(604800, cfg.Session.RefreshTTL)
		assert.Equal(25, cfg.Stream.HeartbeatInterval)
		assert.Equal("local", cfg.Stream.Relay.Mode)
		assert.Equal("accessToken", cfg.Session.AccessCookie)
		assert.Equal("refreshToken", cfg.Session.RefreshCookie)
		assert.NotNil(cfg.NATS)
	}

	// Case 2: invalid config
	{
		config := []byte(`---
api_server:
  server_config:
    listen_on: 1243`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 3: access window must be shorter than the refresh window
	{
		config := []byte(`---
session:
  access_ttl_sec: 3600
  refresh_ttl_sec: 600`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 4: unknown relay mode
	{
		config := []byte(`---
stream:
  relay:
    mode: kafka`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 5: cookie names must differ
	{
		config := []byte(`---
session:
  access_cookie: token
  refresh_cookie: token`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}
}

func TestViperEnvOverrides(t *testing.T) {
	assert := assert.New(t)
	viper.Reset()
	defer viper.Reset()

	t.Setenv("FUNDSTREAM_SESSION_ACCESS_SECRET", "access-from-env")
	t.Setenv("FUNDSTREAM_STREAM_HEARTBEAT_INTERVAL_SEC", "5")

	InstallDefaultConfigValues()
	InstallEnvOverrides()

	var cfg SystemConfig
	assert.Nil(viper.Unmarshal(&cfg))
	assert.Equal("access-from-env", cfg.Session.AccessSecret)
	assert.Equal("", cfg.Session.RefreshSecret)
	assert.Equal(5, cfg.Stream.HeartbeatInterval)
}
