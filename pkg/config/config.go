package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kkyr/fig"
	"github.com/spf13/pflag"
)

const EnvPrefix = "RTSP_DEMO"

type (
	StreamerConfig struct {
		Camera     Camera
		Webrtc     Webrtc
		Server     Server
		Monitoring Monitoring
		Streamer   Streamer
	}
	Camera struct {
		Url      string `fig:"url"`
		Latency  int    `fig:"latency" default:"100"`
		Backoff  Backoff
		Failures struct {
			// consecutive read failures before a reconnect cycle
			Threshold int `fig:"threshold" default:"3"`
			// failed reconnect cycles before the session turns degraded
			MaxRetries int `fig:"max_retries" default:"10"`
		}
	}
	Backoff struct {
		Base time.Duration `fig:"base" default:"1s"`
		Cap  time.Duration `fig:"cap" default:"30s"`
	}
	Streamer struct {
		NegotiationTimeout time.Duration `fig:"negotiation_timeout" default:"10s"`
		StageLinkTimeout   time.Duration `fig:"stage_link_timeout" default:"5s"`
		MailboxCap         int           `fig:"mailbox_cap" default:"32"`
	}
	Monitoring struct {
		Port             int    `fig:"port"`
		URLPrefix        string `fig:"url_prefix"`
		MetricEnabled    bool   `fig:"metric_enabled"`
		ProfilingEnabled bool   `fig:"profiling_enabled"`
	}
)

func (m *Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

// ErrConfig is returned on startup when the configuration
// misses required fields. The process does not start.
var ErrConfig = errors.New("config error")

// allows custom config path
var configPath string

func NewStreamerConfig() (conf StreamerConfig, err error) {
	err = LoadConfig(&conf, configPath)
	return
}

// Validate runs after flag overrides have been applied.
func (c *StreamerConfig) Validate() error {
	if c.Camera.Url == "" {
		return fmt.Errorf("%w: camera.url is required", ErrConfig)
	}
	return nil
}

func (c *StreamerConfig) WithFlags(fs *pflag.FlagSet) *StreamerConfig {
	fs.StringVar(&c.Camera.Url, "camera.url", c.Camera.Url, "RTSP camera source URL")
	fs.StringVar(&c.Server.Address, "address", c.Server.Address, "HTTP server address (host:port)")
	fs.IntVar(&c.Monitoring.Port, "monitoring.port", c.Monitoring.Port, "Monitoring server port")
	fs.StringVarP(&configPath, "conf", "c", "", "Set custom configuration file path")
	return c
}

// LoadConfig loads a configuration file into the given struct.
// The path param specifies a custom path to the configuration file.
// Reads and puts environment variables with the prefix RTSP_DEMO_.
// Params from the config should be in uppercase separated with _.
func LoadConfig(config any, path string) error {
	dirs := []string{path}
	if path == "" {
		dirs = append(dirs, ".", "configs", "../../../configs")
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, home+"/.rtsp-demo")
		}
	}
	return fig.Load(config, fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
}
