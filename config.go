package gcall

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/godyy/gcall/center"
	"github.com/godyy/gcall/net"
	"github.com/godyy/gcall/timer"
	"github.com/godyy/gcall/transport"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ChannelConfig Channel 配置.
type ChannelConfig struct {
	// Target 调用目标. 指定 Center 时为节点ID, 否则为网络地址.
	Target string `yaml:"target"`

	// Endpoint 连接配置.
	Endpoint net.EndpointConfig `yaml:"endpoint"`

	// Transport 传输层配置.
	Transport transport.Config `yaml:"transport"`

	// Timer 定时器引擎配置.
	Timer timer.EngineConfig `yaml:"timer"`

	// Center 数据中心, 可为空.
	Center center.Center `yaml:"-"`

	// Dialer 网络拨号器, 为空时使用 tcp.
	Dialer net.Dialer `yaml:"-"`
}

func (c *ChannelConfig) init() error {
	if c == nil {
		return errors.New("ChannelConfig nil")
	}

	if c.Target == "" {
		return errors.New("ChannelConfig.Target not specified")
	}

	return nil
}

// ServerConfig Server 配置.
type ServerConfig struct {
	// Listener 监听配置.
	Listener net.ListenerConfig `yaml:"listener"`

	// Transport 传输层配置.
	Transport transport.Config `yaml:"transport"`

	// Timer 定时器引擎配置.
	Timer timer.EngineConfig `yaml:"timer"`
}

func (c *ServerConfig) init() error {
	if c == nil {
		return errors.New("ServerConfig nil")
	}

	return nil
}

// Config 配置文件结构.
type Config struct {
	Channel *ChannelConfig `yaml:"channel"`
	Server  *ServerConfig  `yaml:"server"`
}

// LoadConfig 自 YAML 文件读取配置.
func LoadConfig(path string) (*Config, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, pkgerrors.WithMessage(err, "read config")
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, pkgerrors.WithMessage(err, "unmarshal config")
	}

	if cfg.Channel == nil && cfg.Server == nil {
		return nil, errors.New("config has neither channel nor server")
	}

	return &cfg, nil
}
