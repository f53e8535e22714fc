package delivery

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// sshDialer opens SFTP sessions over password-authenticated SSH.
type sshDialer struct {
	cfg Config
}

func (d *sshDialer) Dial(ctx context.Context) (Conn, error) {
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
	sshCfg := &ssh.ClientConfig{
		User:            d.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(d.cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.cfg.ConnectTimeout,
	}

	netDialer := net.Dialer{Timeout: d.cfg.ConnectTimeout}
	raw, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	// Bound the handshake as well, then clear the deadline for transfers.
	if d.cfg.ConnectTimeout > 0 {
		raw.SetDeadline(time.Now().Add(d.cfg.ConnectTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(raw, addr, sshCfg)
	if err != nil {
		raw.Close()
		return nil, errors.Wrapf(err, "ssh handshake with %s", addr)
	}
	raw.SetDeadline(time.Time{})
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, errors.Wrap(err, "open sftp subsystem")
	}
	return &sftpConn{ssh: sshClient, sftp: sftpClient}, nil
}

type sftpConn struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (c *sftpConn) MkdirAll(path string) error {
	return c.sftp.MkdirAll(path)
}

func (c *sftpConn) Create(path string) (io.WriteCloser, error) {
	return c.sftp.Create(path)
}

func (c *sftpConn) Stat(path string) (os.FileInfo, error) {
	return c.sftp.Stat(path)
}

func (c *sftpConn) Close() error {
	sftpErr := c.sftp.Close()
	sshErr := c.ssh.Close()
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}
