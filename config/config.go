package config

import (
	"net/netip"
	"os"
	"strings"

	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"go.universe.tf/nattable/flowtable"
)

const (
	DefaultQueue        = 42
	DefaultMaxPacketLen = 65535
	DefaultMaxQueueLen  = 255
	DefaultLANInterface = "eth0"
	DefaultWANInterface = "eth1"
)

// Config is the natbox configuration file.
type Config struct {
	Queue          uint16 `yaml:"queue"`
	MaxPacketLen   uint32 `yaml:"max-packet-len"`
	MaxQueueLen    uint32 `yaml:"max-queue-len"`
	LANInterface   string `yaml:"lan-interface"`
	WANInterface   string `yaml:"wan-interface"`
	MetricsAddress string `yaml:"metrics-address"`
	LogLevel       string `yaml:"log-level"`

	Mappings []StaticMapping `yaml:"mappings"`
}

// StaticMapping is one operator-provided translation.
type StaticMapping struct {
	Protocol string   `yaml:"protocol"`
	Internal Endpoint `yaml:"internal"`
	External Endpoint `yaml:"external"`
}

// Endpoint is a flow written as source and destination. Addresses
// take a port ("10.0.0.1:1337") for protocols that have them, and
// are bare ("10.0.0.1") otherwise.
type Endpoint struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
}

// Default returns a config with every knob at its default value.
func Default() *Config {
	return &Config{
		Queue:        DefaultQueue,
		MaxPacketLen: DefaultMaxPacketLen,
		MaxQueueLen:  DefaultMaxQueueLen,
		LANInterface: DefaultLANInterface,
		WANInterface: DefaultWANInterface,
		LogLevel:     log.InfoLevel.String(),
	}
}

// Load reads and validates the config file at path. Fields missing
// from the file keep their default values.
func Load(path string) (*Config, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	cfg, err := Parse(bs)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML config.
func Parse(bs []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(bs, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing YAML")
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	if cfg.LANInterface == cfg.WANInterface {
		return nil, errors.Errorf("LAN and WAN interfaces must differ, both are %q", cfg.LANInterface)
	}
	if _, err := cfg.Flows(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Flows converts the static mappings into flow pairs, in file order.
func (c *Config) Flows() ([]flowtable.Mapping, error) {
	ret := make([]flowtable.Mapping, 0, len(c.Mappings))
	for i, m := range c.Mappings {
		mapping, err := m.Flows()
		if err != nil {
			return nil, errors.Wrapf(err, "mapping %d", i)
		}
		ret = append(ret, mapping)
	}
	return ret, nil
}

// Flows converts m into a flow pair.
func (m StaticMapping) Flows() (flowtable.Mapping, error) {
	proto, err := ParseProtocol(m.Protocol)
	if err != nil {
		return flowtable.Mapping{}, err
	}
	internal, err := m.Internal.flow(proto)
	if err != nil {
		return flowtable.Mapping{}, errors.Wrap(err, "internal")
	}
	external, err := m.External.flow(proto)
	if err != nil {
		return flowtable.Mapping{}, errors.Wrap(err, "external")
	}
	if internal.Src.Is4() != external.Src.Is4() {
		return flowtable.Mapping{}, errors.New("internal and external flows must use the same address family")
	}
	return flowtable.Mapping{Internal: internal, External: external}, nil
}

func (e Endpoint) flow(proto layers.IPProtocol) (flowtable.Flow, error) {
	src, srcPort, err := parseAddr(e.Src, proto)
	if err != nil {
		return flowtable.Flow{}, errors.Wrap(err, "src")
	}
	dst, dstPort, err := parseAddr(e.Dst, proto)
	if err != nil {
		return flowtable.Flow{}, errors.Wrap(err, "dst")
	}
	if src.Is4() != dst.Is4() {
		return flowtable.Flow{}, errors.Errorf("mixed address families in %s -> %s", e.Src, e.Dst)
	}
	return flowtable.NewFlow(proto, src, dst, srcPort, dstPort), nil
}

func parseAddr(s string, proto layers.IPProtocol) (netip.Addr, uint16, error) {
	if s == "" {
		return netip.Addr{}, 0, errors.New("missing address")
	}
	if !flowtable.HasPorts(proto) {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Addr{}, 0, errors.Errorf("%s has no ports, want a bare address: %s", strings.ToLower(proto.String()), err)
		}
		return addr.Unmap(), 0, nil
	}
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.Addr{}, 0, err
	}
	return ap.Addr().Unmap(), ap.Port(), nil
}

// ParseProtocol maps a protocol name to its IP protocol number.
func ParseProtocol(name string) (layers.IPProtocol, error) {
	switch strings.ToLower(name) {
	case "tcp":
		return layers.IPProtocolTCP, nil
	case "udp":
		return layers.IPProtocolUDP, nil
	case "icmp", "icmpv4":
		return layers.IPProtocolICMPv4, nil
	default:
		return 0, errors.Errorf("unsupported protocol %q", name)
	}
}
