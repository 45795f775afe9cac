package core

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to any of the
// agent's components.
type Config struct {
	// Hostname or IP address on which the agent will listen for control connections.
	Hostname string `mapstructure:"hostname"`
	// Port on which the agent will listen for control connections.
	ControlPort int `mapstructure:"control_port"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`
	// Path to the file used to enforce that only one agent instance is running.
	PidFilePath string `mapstructure:"pid_file_path"`
	// Size of the buffer used for each socket read.
	ReadBufferSize int `mapstructure:"read_buffer_size"`
	// Largest control frame payload the agent will accept before dropping the
	// offending control session.
	MaxFrameSize int `mapstructure:"max_frame_size"`

	Debugging struct {
		// Enable the pprof server.
		PprofEnabled bool `mapstructure:"pprof_enabled"`
		// Port on which the pprof server will be started if enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Log the contents of every control request to the debug log.
		RequestLoggingEnabled bool `mapstructure:"request_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "FIXTOOL"

// Filesystem locations that will be checked for a config file by default.
var defaultSearchPaths = []string{
	".",
	"/usr/local/etc/fixtool/",
	"setup/",
}

// LoadConfig initializes Viper with the contents of the config file under
// configPath, falling back to the default search paths (and then to the
// built-in defaults) when configPath is empty.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.AddConfigPath(configPath)
	} else {
		for _, path := range defaultSearchPaths {
			viper.AddConfigPath(path)
		}
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envVarPrefix)
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; the defaults describe a usable agent.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, debugging.pprof_port can be set using:
	// <envVarPrefix>_DEBUGGING_PPROF_PORT
	for _, k := range viper.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := viper.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	return config, nil
}

func setDefaults() {
	viper.SetDefault("hostname", "0.0.0.0")
	viper.SetDefault("control_port", 11011)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("pid_file_path", "/tmp/fixtool-agent.pid")
	viper.SetDefault("read_buffer_size", 65536)
	viper.SetDefault("max_frame_size", 1<<20)
	viper.SetDefault("debugging.pprof_port", 14000)
}

// ControlAddress returns the address to which the control listener will be bound.
func (c *Config) ControlAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.ControlPort)
}
