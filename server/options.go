package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/dcrodman/hl7mllp/internal/charset"
	"github.com/dcrodman/hl7mllp/internal/mllp"
)

// MaxPort is the highest port a Listener can be bound to.
const MaxPort = 65535

// nameBlacklist holds the characters a listener name may not contain.
const nameBlacklist = " `!@#$%^&*()+-=[]{};':\"\\|,.<>/?~"

// ServerConfig holds the process wide bind settings shared by every Listener
// created from a Server.
type ServerConfig struct {
	// Address the listeners bind to. Empty binds to every interface.
	BindAddress string
	// IPv4 and IPv6 restrict the listeners to one address family. At most one may be set.
	IPv4 bool
	IPv6 bool
	// TLS enables TLS on every Listener when set.
	TLS *TLSConfig

	// Logger receives lifecycle logs. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
	// Registerer, when set, is where the listener metrics are registered.
	Registerer prometheus.Registerer
}

// TLSConfig is the PEM encoded key material used to terminate TLS.
type TLSConfig struct {
	Cert []byte
	Key  []byte
	// CA holds the certificates trusted to sign client certificates.
	CA [][]byte
	// RequestCert asks connecting peers for a certificate.
	RequestCert bool
	// RejectUnauthorized refuses peers whose certificate can't be verified
	// against CA. Only meaningful together with RequestCert.
	RejectUnauthorized bool
}

func (c ServerConfig) validate() error {
	if c.IPv4 && c.IPv6 {
		return configError("ipv4", "ipv4 and ipv6 both can't be set to be exclusive.")
	}
	if c.BindAddress == "" {
		return nil
	}

	ip := net.ParseIP(c.BindAddress)
	switch {
	case c.IPv4 && (ip == nil || ip.To4() == nil):
		return configError("bindAddress", "bindAddress is an invalid ipv4 address.")
	case c.IPv6 && (ip == nil || ip.To4() != nil):
		return configError("bindAddress", "bindAddress is an invalid ipv6 address.")
	case ip == nil:
		return configError("bindAddress", fmt.Sprintf("bindAddress %s is not a valid ip address.", c.BindAddress))
	}
	return nil
}

// network returns the network name passed to net.Listen.
func (c ServerConfig) network() string {
	switch {
	case c.IPv4:
		return "tcp4"
	case c.IPv6:
		return "tcp6"
	default:
		return "tcp"
	}
}

// ListenerConfig holds the settings of a single inbound port.
type ListenerConfig struct {
	// Port to listen on. Zero lets the operating system choose.
	Port int
	// Name identifies the listener in logs, events and metrics. Defaults to
	// the bound port.
	Name string
	// Encoding is the IANA character set the peers send. Defaults to UTF-8.
	Encoding string
	// OverrideMessageHeaderAckType forces MSH-9.3 of every ACK to "ACK".
	OverrideMessageHeaderAckType bool
	// MaxFrameSize bounds the bytes buffered per frame before the connection
	// is dropped. Defaults to 1 MiB.
	MaxFrameSize int
	// DuplicateWindow, when positive, marks requests whose MSH-10 control ID
	// was already received by this Listener within the window.
	DuplicateWindow time.Duration
}

// validate checks c and resolves its character set.
func (c ListenerConfig) validate() (*charset.Codec, error) {
	if c.Port < 0 || c.Port > MaxPort {
		return nil, configError("port", fmt.Sprintf("port must be a number (0, %d)", MaxPort))
	}
	if strings.ContainsAny(c.Name, nameBlacklist) {
		return nil, configError("name", "name must not contain certain characters: "+nameBlacklist)
	}
	if c.MaxFrameSize < 0 {
		return nil, configError("maxFrameSize", "maxFrameSize must not be negative")
	}
	if c.DuplicateWindow < 0 {
		return nil, configError("duplicateWindow", "duplicateWindow must not be negative")
	}
	codec, err := charset.Lookup(c.Encoding)
	if err != nil {
		return nil, configError("encoding", err.Error())
	}
	return codec, nil
}

// withDefaults fills in the optional fields.
func (c ListenerConfig) withDefaults() ListenerConfig {
	// Unnamed listeners on port 0 are named after the port they bind.
	if c.Name == "" && c.Port != 0 {
		c.Name = strconv.Itoa(c.Port)
	}
	if c.Encoding == "" {
		c.Encoding = charset.Default
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = mllp.DefaultMaxFrameSize
	}
	return c
}

// NormalizeServerOptions builds a validated ServerConfig from loosely typed
// options such as those decoded from a YAML file. Keys are matched ignoring
// case and underscores, so bind_address and bindAddress are equivalent. TLS
// material may be given inline (cert, key, ca) or as paths (cert_file,
// key_file, ca_file).
func NormalizeServerOptions(raw map[string]interface{}) (ServerConfig, error) {
	opts := normalizeKeys(raw)
	var cfg ServerConfig

	if v, ok := opts["bindaddress"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return ServerConfig{}, configError("bindAddress", "bindAddress is not valid string.")
		}
		cfg.BindAddress = s
	}

	var err error
	if cfg.IPv4, err = optionalBool(opts, "ipv4"); err != nil {
		return ServerConfig{}, err
	}
	if cfg.IPv6, err = optionalBool(opts, "ipv6"); err != nil {
		return ServerConfig{}, err
	}

	if v, ok := opts["tls"]; ok && v != nil {
		tlsOpts, err := cast.ToStringMapE(v)
		if err != nil {
			return ServerConfig{}, configError("tls", "tls must be a map of options.")
		}
		if cfg.TLS, err = normalizeTLSOptions(normalizeKeys(tlsOpts)); err != nil {
			return ServerConfig{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func normalizeTLSOptions(opts map[string]interface{}) (*TLSConfig, error) {
	cfg := &TLSConfig{}

	var err error
	if cfg.Cert, err = pemOption(opts, "cert"); err != nil {
		return nil, err
	}
	if cfg.Key, err = pemOption(opts, "key"); err != nil {
		return nil, err
	}
	ca, err := pemOption(opts, "ca")
	if err != nil {
		return nil, err
	}
	if len(ca) > 0 {
		cfg.CA = [][]byte{ca}
	}
	if len(cfg.Cert) == 0 || len(cfg.Key) == 0 {
		return nil, configError("tls", "tls requires both a certificate and a private key.")
	}

	if cfg.RequestCert, err = optionalBool(opts, "requestcert"); err != nil {
		return nil, err
	}
	if cfg.RejectUnauthorized, err = optionalBool(opts, "rejectunauthorized"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pemOption reads key inline or, failing that, from the file named by key+"file".
func pemOption(opts map[string]interface{}, key string) ([]byte, error) {
	if v, ok := opts[key]; ok && v != nil {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, configError("tls", fmt.Sprintf("tls %s is not valid string.", key))
		}
		return []byte(s), nil
	}

	v, ok := opts[key+"file"]
	if !ok || v == nil {
		return nil, nil
	}
	path, err := cast.ToStringE(v)
	if err != nil {
		return nil, configError("tls", fmt.Sprintf("tls %s_file is not valid string.", key))
	}
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configError("tls", fmt.Sprintf("unable to read tls %s file: %v", key, err))
	}
	return data, nil
}

// NormalizeListenerOptions builds a validated ListenerConfig from loosely
// typed options. Recognized keys: port, name, encoding,
// override_message_header_ack_type (or override_msh), max_frame_size and
// duplicate_window.
func NormalizeListenerOptions(raw map[string]interface{}) (ListenerConfig, error) {
	opts := normalizeKeys(raw)
	var cfg ListenerConfig

	v, ok := opts["port"]
	if !ok || v == nil {
		return ListenerConfig{}, configError("port", "port is not defined")
	}
	port, err := portNumber(v)
	if err != nil {
		return ListenerConfig{}, err
	}
	cfg.Port = port

	if v, ok := opts["name"]; ok && v != nil {
		if cfg.Name, err = cast.ToStringE(v); err != nil {
			return ListenerConfig{}, configError("name", "name is not valid string.")
		}
	}
	if v, ok := opts["encoding"]; ok && v != nil {
		if cfg.Encoding, err = cast.ToStringE(v); err != nil {
			return ListenerConfig{}, configError("encoding", "encoding is not valid string.")
		}
	}

	if _, ok := opts["overridemessageheaderacktype"]; ok {
		cfg.OverrideMessageHeaderAckType, err = optionalBool(opts, "overridemessageheaderacktype")
	} else {
		cfg.OverrideMessageHeaderAckType, err = optionalBool(opts, "overridemsh")
	}
	if err != nil {
		return ListenerConfig{}, err
	}

	if v, ok := opts["maxframesize"]; ok && v != nil {
		if cfg.MaxFrameSize, err = cast.ToIntE(v); err != nil {
			return ListenerConfig{}, configError("maxFrameSize", "maxFrameSize is not valid number")
		}
	}
	if v, ok := opts["duplicatewindow"]; ok && v != nil {
		if cfg.DuplicateWindow, err = cast.ToDurationE(v); err != nil {
			return ListenerConfig{}, configError("duplicateWindow", "duplicateWindow is not valid duration")
		}
	}

	if _, err := cfg.validate(); err != nil {
		return ListenerConfig{}, err
	}
	return cfg.withDefaults(), nil
}

func portNumber(v interface{}) (int, error) {
	var port int
	switch p := v.(type) {
	case int:
		port = p
	case int64:
		port = int(p)
	case uint16:
		port = int(p)
	case float64:
		if p != float64(int(p)) {
			return 0, configError("port", "port is not valid number")
		}
		port = int(p)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, configError("port", "port is not valid number")
		}
		port = n
	default:
		return 0, configError("port", "port is not valid number")
	}

	if port < 0 || port > MaxPort {
		return 0, configError("port", fmt.Sprintf("port must be a number (0, %d)", MaxPort))
	}
	return port, nil
}

func optionalBool(opts map[string]interface{}, key string) (bool, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return false, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, configError(key, fmt.Sprintf("%s is not valid boolean.", key))
	}
	return b, nil
}

func normalizeKeys(raw map[string]interface{}) map[string]interface{} {
	opts := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		opts[strings.ToLower(strings.ReplaceAll(k, "_", ""))] = v
	}
	return opts
}
