// Package config holds the persisted network record and the runtime options
// of a node.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TheusHen/roam/roam/identity"
)

// MaxCIDR is the longest prefix that still leaves room for more than one host.
const MaxCIDR = 30

// DefaultSubnet is used when no subnet is given for a new network.
var DefaultSubnet = netip.MustParsePrefix("192.168.251.0/24")

var (
	ErrNoName       = errors.New("config: network name is empty")
	ErrInvalidCIDR  = errors.New("config: invalid CIDR")
	ErrNotIPv4      = errors.New("config: network address is not IPv4")
	ErrInvalidRange = errors.New("config: invalid subnet")
)

// NetworkConfig is the record saved for one network.
type NetworkConfig struct {
	Name        string     `json:"name"`
	Key         string     `json:"key"`
	NetworkAddr netip.Addr `json:"network_addr"`
	CIDR        uint8      `json:"cidr"`
}

// NewNetwork creates the record for a fresh network with a new control key.
// An empty subnet selects DefaultSubnet.
func NewNetwork(name, subnet string) (NetworkConfig, error) {
	prefix, err := ParseSubnet(subnet)
	if err != nil {
		return NetworkConfig{}, err
	}
	secret, err := identity.GenerateNetworkSecret(nil)
	if err != nil {
		return NetworkConfig{}, err
	}
	c := NetworkConfig{
		Name:        strings.TrimSpace(name),
		Key:         identity.Encode(secret),
		NetworkAddr: prefix.Addr(),
		CIDR:        uint8(prefix.Bits()),
	}
	return c, c.Validate()
}

// ParseSubnet parses "a.b.c.d/n". The empty string yields DefaultSubnet.
func ParseSubnet(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSubnet, nil
	}
	addrPart, bitsPart, ok := strings.Cut(s, "/")
	if !ok {
		return netip.Prefix{}, fmt.Errorf("%w: %q has no prefix length", ErrInvalidRange, s)
	}
	addr, err := netip.ParseAddr(addrPart)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	if !addr.Is4() {
		return netip.Prefix{}, ErrNotIPv4
	}
	bits, err := strconv.ParseUint(bitsPart, 10, 8)
	if err != nil || bits > MaxCIDR {
		return netip.Prefix{}, fmt.Errorf("%w: %q", ErrInvalidCIDR, bitsPart)
	}
	return netip.PrefixFrom(addr, int(bits)).Masked(), nil
}

// Validate checks every field, including that the key decodes.
func (c NetworkConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrNoName
	}
	if _, err := identity.DecodeNetworkSecret(c.Key); err != nil {
		return err
	}
	if !c.NetworkAddr.Is4() {
		return ErrNotIPv4
	}
	if c.CIDR > MaxCIDR {
		return fmt.Errorf("%w: /%d", ErrInvalidCIDR, c.CIDR)
	}
	return nil
}

// Secret decodes the stored key.
func (c NetworkConfig) Secret() (identity.NetworkSecret, error) {
	return identity.DecodeNetworkSecret(c.Key)
}

// Prefix is the tunnel subnet.
func (c NetworkConfig) Prefix() netip.Prefix {
	return netip.PrefixFrom(c.NetworkAddr, int(c.CIDR)).Masked()
}

// AccessOnly returns the record with the control key stripped, for handing
// the network to someone who should join but not administer it.
func (c NetworkConfig) AccessOnly() (NetworkConfig, error) {
	secret, err := c.Secret()
	if err != nil {
		return NetworkConfig{}, err
	}
	c.Key = identity.Encode(secret.AccessOnly())
	return c, nil
}

// ReadFile loads and validates a record.
func ReadFile(path string) (NetworkConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return NetworkConfig{}, err
	}
	var c NetworkConfig
	if err := json.Unmarshal(raw, &c); err != nil {
		return NetworkConfig{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return NetworkConfig{}, err
	}
	return c, nil
}

// WriteFile stores a record readable only by its owner, since the key may
// carry the control half.
func WriteFile(path string, c NetworkConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(raw, '\n'), 0o600)
}
