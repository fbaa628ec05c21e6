package config

import (
	"errors"
	"fmt"
	"strings"

	"crestron-home-bridge/internal/domain/model"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const EnvPrefix = "CRESTRON_BRIDGE"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Crestron CrestronConfig `mapstructure:"crestron"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MQTTConfig enables the state publisher when Broker is set.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

// CrestronConfig locates the options file. Host and token seed the options
// file on first start.
type CrestronConfig struct {
	OptionsFile string `mapstructure:"options_file"`
	EntryID     string `mapstructure:"entry_id"`
	Host        string `mapstructure:"host"`
	APIToken    string `mapstructure:"api_token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "crestron-home-bridge")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "crestron_home")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("crestron.options_file", "options.yaml")
	v.SetDefault("crestron.entry_id", "")
	v.SetDefault("crestron.host", "")
	v.SetDefault("crestron.api_token", "")
}

// Load reads path, or config.yaml from the working directory or ./config
// when path is empty. A missing file is not an error. Environment
// variables such as CRESTRON_BRIDGE_SERVER_PORT override file values.
func Load(path string, log logrus.FieldLogger) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info("Config file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return nil, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	return &cfg, nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)
	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return logger, nil
}

// WatchOptions calls onChange with the decoded options each time the file
// at path is written. The file must exist.
func WatchOptions(path string, log logrus.FieldLogger, onChange func(model.Options)) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading options file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		opts, err := decodeOptions(v)
		if err != nil {
			log.Warnf("Ignoring options file change: %v", err)
			return
		}
		log.Infof("Options file changed: %s", e.Name)
		onChange(opts)
	})
	v.WatchConfig()
	return nil
}

func decodeOptions(v *viper.Viper) (model.Options, error) {
	opts := model.DefaultOptions()
	if err := v.Unmarshal(&opts); err != nil {
		return model.Options{}, err
	}
	return opts, nil
}
