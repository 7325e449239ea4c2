package sshtunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestOpenRequiresEndpoint(t *testing.T) {
	_, err := Open(Config{Username: "u", Password: "p"}, "db", 5432)
	assert.Error(t, err)

	_, err = Open(Config{Host: "bastion"}, "db", 5432)
	assert.Error(t, err)
}

func TestOpenRequiresAuth(t *testing.T) {
	_, err := Open(Config{Host: "bastion", Username: "u"}, "db", 5432)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password or private key")
}

func TestOpenBadKeyPath(t *testing.T) {
	_, err := Open(Config{
		Host:           "bastion",
		Username:       "u",
		PrivateKeyPath: "/nonexistent/id_ed25519",
	}, "db", 5432)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read ssh private key")
}

// startSSHServer runs a minimal in-process SSH server that accepts
// password auth and direct-tcpip channels.
func startSSHServer(t *testing.T, user, password string) string {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("auth denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nConn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(nConn, cfg)
		}
	}()

	return ln.Addr().String()
}

func serveSSHConn(nConn net.Conn, cfg *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(nConn, cfg)
	if err != nil {
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "direct-tcpip" {
			newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}

		var msg struct {
			DestAddr string
			DestPort uint32
			OrigAddr string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(newCh.ExtraData(), &msg); err != nil {
			newCh.Reject(ssh.ConnectionFailed, "bad payload")
			continue
		}

		target, err := net.Dial("tcp", net.JoinHostPort(msg.DestAddr, strconv.Itoa(int(msg.DestPort))))
		if err != nil {
			newCh.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}

		ch, chReqs, err := newCh.Accept()
		if err != nil {
			target.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)

		go func() {
			io.Copy(target, ch)
			target.Close()
		}()
		go func() {
			io.Copy(ch, target)
			ch.Close()
		}()
	}
}

func TestTunnelForwardsTraffic(t *testing.T) {
	// Echo service standing in for a database endpoint.
	echo, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { echo.Close() })
	go func() {
		for {
			c, err := echo.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(c)
		}
	}()
	echoPort := echo.Addr().(*net.TCPAddr).Port

	sshAddr := startSSHServer(t, "tester", "hunter2")
	host, portStr, err := net.SplitHostPort(sshAddr)
	require.NoError(t, err)
	sshPort, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	tun, err := Open(Config{
		Host:     host,
		Port:     sshPort,
		Username: "tester",
		Password: "hunter2",
	}, "127.0.0.1", echoPort)
	require.NoError(t, err)
	defer tun.Close()

	assert.NotZero(t, tun.LocalPort())

	conn, err := net.DialTimeout("tcp", tun.Addr(), 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	require.NoError(t, tun.Close())
	require.NoError(t, tun.Close(), "Close must be idempotent")
}

func TestTunnelRejectsBadPassword(t *testing.T) {
	sshAddr := startSSHServer(t, "tester", "hunter2")
	host, portStr, _ := net.SplitHostPort(sshAddr)
	port, _ := strconv.Atoi(portStr)

	_, err := Open(Config{
		Host:     host,
		Port:     port,
		Username: "tester",
		Password: "wrong",
	}, "127.0.0.1", 5432)
	assert.Error(t, err)
}
