package common

import (
	"io"

	"github.com/supporttools/GoDBVault/pkg/sshtunnel"
)

// Endpoint is the resolved network target for a connection. When the
// configuration carries SSH parameters, Host/Port point at a local forward
// tunnel whose lifetime the adapter owns via Close.
type Endpoint struct {
	Host string
	Port int

	tunnel io.Closer
}

// Close tears down the tunnel, if any.
func (e *Endpoint) Close() error {
	if e == nil || e.tunnel == nil {
		return nil
	}
	err := e.tunnel.Close()
	e.tunnel = nil
	return err
}

// ResolveEndpoint returns the address an adapter (or a dump subprocess)
// should dial. With cfg.SSH set, a tunnel to cfg.Host is opened first and
// the loopback listener address is returned. Tunneling applies only to
// discrete host/port configurations; a ConnectionString is used verbatim
// by the adapter and never rewritten.
func ResolveEndpoint(cfg ConnectionConfig) (*Endpoint, error) {
	if cfg.SSH == nil || cfg.ConnectionString != "" {
		return &Endpoint{Host: cfg.Host, Port: cfg.EffectivePort()}, nil
	}

	tun, err := sshtunnel.Open(sshtunnel.Config{
		Host:           cfg.SSH.Host,
		Port:           cfg.SSH.Port,
		Username:       cfg.SSH.Username,
		Password:       cfg.SSH.Password,
		PrivateKeyPath: cfg.SSH.PrivateKeyPath,
	}, cfg.Host, cfg.EffectivePort())
	if err != nil {
		return nil, err
	}

	return &Endpoint{Host: "127.0.0.1", Port: tun.LocalPort(), tunnel: tun}, nil
}
