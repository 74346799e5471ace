// config is the package containing the configuration for easy-deploy:
// what can be put in its config file, and the defaults for anything
// left out of it.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/imdario/mergo"
	"github.com/pkg/errors"
)

const (
	ConfigName              = ".easy-deploy.yaml"
	EasyDeployConfigVersion = "v1"

	LogFormatFmt  = "fmt"
	LogFormatJSON = "json"

	DefaultRegion = "us-east-1"
)

type Config struct {
	// This is expected to be present in a config file (and will not
	// correspond to a flag). The value determines how the config file
	// is interpreted: for now, if it is not equal to
	// EasyDeployConfigVersion above, it is considered an invalid
	// configuration.
	ConfigVersion string `json:"easyDeployConfigVersion"`

	Profile        string  `json:"profile,omitempty"`
	OpsWorksRegion string  `json:"opsworksRegion,omitempty"`
	ELBRegion      string  `json:"elbRegion,omitempty"`
	APIRPS         float64 `json:"apiRps,omitempty"`
	APIBurst       int     `json:"apiBurst,omitempty"`

	PollInterval  Duration `json:"pollInterval,omitempty"`
	DrainFallback Duration `json:"drainFallback,omitempty"`
	HealthMargin  int64    `json:"healthMargin,omitempty"`
	RebootDelay   Duration `json:"rebootDelay,omitempty"`

	LogFormat   string `json:"logFormat,omitempty"`
	MetricsFile string `json:"metricsFile,omitempty"`
	Progress    bool   `json:"progress,omitempty"`
}

// Defaults is the configuration used for anything not given in a
// config file or by a flag.
func Defaults() Config {
	return Config{
		ConfigVersion:  EasyDeployConfigVersion,
		OpsWorksRegion: DefaultRegion,
		ELBRegion:      DefaultRegion,
		PollInterval:   Duration{20 * time.Second},
		DrainFallback:  Duration{20 * time.Second},
		HealthMargin:   2,
		RebootDelay:    Duration{300 * time.Second},
		LogFormat:      LogFormatFmt,
	}
}

func (c Config) IsValid() error {
	if c.ConfigVersion != EasyDeployConfigVersion {
		return fmt.Errorf("config file is expected to include `easyDeployConfigVersion: %s` to mark it as an easy-deploy config", EasyDeployConfigVersion)
	}
	switch c.LogFormat {
	case "", LogFormatFmt, LogFormatJSON:
	default:
		return fmt.Errorf("unsupported log format %q, expected %s or %s", c.LogFormat, LogFormatFmt, LogFormatJSON)
	}
	if c.APIRPS < 0 || c.APIBurst < 0 {
		return errors.New("apiRps and apiBurst must not be negative")
	}
	// Zero is left for the defaults to fill in, so only negative values
	// can get past Load without a usable poll interval.
	for name, d := range map[string]Duration{
		"pollInterval":  c.PollInterval,
		"drainFallback": c.DrainFallback,
		"rebootDelay":   c.RebootDelay,
	} {
		if d.Duration < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d.Duration)
		}
	}
	if c.HealthMargin < 0 {
		return fmt.Errorf("healthMargin must not be negative, got %d", c.HealthMargin)
	}
	return nil
}

// Load reads the config file at path, and fills in anything it leaves
// out from Defaults. A file that doesn't exist is only an error if
// mustExist is set; otherwise the defaults are returned as they are.
func Load(path string, mustExist bool) (Config, error) {
	bytes, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) && !mustExist {
		return Defaults(), nil
	}
	if err != nil {
		return Config{}, errors.Wrap(err, "reading config file")
	}

	var c Config
	if err := yaml.Unmarshal(bytes, &c); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config file %s", path)
	}
	if err := c.IsValid(); err != nil {
		return Config{}, errors.Wrapf(err, "config file %s", path)
	}
	if err := mergo.Merge(&c, Defaults()); err != nil {
		return Config{}, errors.Wrap(err, "applying config defaults")
	}
	return c, nil
}

// Duration is a time.Duration that can be given in a config file as
// either a Go duration string ("90s", "5m") or a number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	}
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("expected a duration like \"20s\" or a number of seconds, got %s", data)
	}
	d.Duration = time.Duration(seconds * float64(time.Second))
	return nil
}
