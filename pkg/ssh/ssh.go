// Package ssh implements the connection to the warehouse host: commands run
// over an SSH session, and files are listed and transferred over the SFTP
// subsystem of the same connection.
package ssh

import (
	"bytes"
	"io"
	"net"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sidkik/pagecounts/pkg/errors"
)

// Mocked out for unit testing.
var (
	fs      = afero.NewOsFs()
	getenv  = os.Getenv
	dialSSH = ssh.Dial
)

// DefaultPort is used when Config.Host doesn't include a port.
const DefaultPort = "22"

// Config describes how to reach and authenticate to the warehouse host.
type Config struct {
	// Host is the address of the SSH server, optionally with a port.
	Host string
	User string

	// IdentityFile is the path of the private key. If it's empty, the keys
	// held by the agent at $SSH_AUTH_SOCK are used instead.
	IdentityFile string
	Passphrase   string

	// KnownHostsFile is the known_hosts file used to verify the server.
	KnownHostsFile string

	// Timeout bounds the TCP connect and handshake. Zero means no timeout.
	Timeout time.Duration
}

// Output is the result of a remote command. A non-zero exit status is not an
// error: callers interpret the output themselves.
type Output struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
}

// Conn is an open connection to the warehouse host. It must be closed by
// the caller.
type Conn struct {
	client *ssh.Client
	sftp   *sftp.Client
	agent  net.Conn
}

// Dial connects to the host described by cfg and starts the SFTP subsystem.
func Dial(cfg Config) (*Conn, error) {
	if cfg.Host == "" {
		return nil, errors.MissingFieldError{Field: "host"}
	}
	if cfg.KnownHostsFile == "" {
		return nil, errors.MissingFieldError{Field: "knownHostsFile"}
	}

	hostKeyCallback, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, errors.WithContext(err, "load known hosts")
	}

	conn := &Conn{}
	auth, err := conn.authMethod(cfg)
	if err != nil {
		return nil, errors.WithContext(err, "load credentials")
	}

	addr := cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}

	log.WithField("host", addr).Debug("Connecting to warehouse host")
	conn.client, err = dialSSH("tcp", addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	})
	if err != nil {
		conn.closeAgent()
		return nil, errors.WithContext(err, "connect")
	}

	conn.sftp, err = sftp.NewClient(conn.client)
	if err != nil {
		conn.client.Close()
		conn.closeAgent()
		return nil, errors.WithContext(err, "start sftp")
	}
	return conn, nil
}

func (c *Conn) authMethod(cfg Config) (ssh.AuthMethod, error) {
	if cfg.IdentityFile == "" {
		sock := getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, errors.New("no identity file configured and SSH_AUTH_SOCK is unset")
		}

		agentConn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, errors.WithContext(err, "connect to agent")
		}
		c.agent = agentConn
		return ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers), nil
	}

	keyBytes, err := afero.ReadFile(fs, cfg.IdentityFile)
	if err != nil {
		return nil, errors.WithContext(err, "read identity file")
	}

	var signer ssh.Signer
	if cfg.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(cfg.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}
	if err != nil {
		return nil, errors.WithContext(err, "parse identity file")
	}
	return ssh.PublicKeys(signer), nil
}

// Exec runs cmd in a new session and collects its output.
func (c *Conn) Exec(cmd string) (Output, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return Output{}, errors.WithContext(err, "new session")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	out := Output{}
	if err := session.Run(cmd); err != nil {
		exitErr, ok := err.(*ssh.ExitError)
		if !ok {
			return Output{}, errors.WithContext(err, "run")
		}
		out.ExitStatus = exitErr.ExitStatus()
	}
	out.Stdout = stdout.Bytes()
	out.Stderr = stderr.Bytes()
	return out, nil
}

// Walk returns the paths of all regular files under root. A missing root
// yields no files.
func (c *Conn) Walk(root string) ([]string, error) {
	var paths []string
	walker := c.sftp.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			if walker.Path() == root && os.IsNotExist(err) {
				return nil, nil
			}
			return nil, errors.WithContext(err, "walk "+walker.Path())
		}

		if walker.Stat().Mode().IsRegular() {
			paths = append(paths, walker.Path())
		}
	}
	return paths, nil
}

// MkdirAll creates dir and any missing parents.
func (c *Conn) MkdirAll(dir string) error {
	return c.sftp.MkdirAll(dir)
}

// Put writes the contents of r to remotePath. The data is first written to
// a hidden file in the same directory, and then renamed into place so that
// an interrupted transfer never leaves a truncated file under the final name.
func (c *Conn) Put(r io.Reader, remotePath string) error {
	dir, name := path.Split(remotePath)
	partPath := path.Join(dir, "."+name+".part")

	f, err := c.sftp.Create(partPath)
	if err != nil {
		return errors.WithContext(err, "create")
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		c.removeQuietly(partPath)
		return errors.WithContext(err, "write")
	}

	if err := f.Close(); err != nil {
		c.removeQuietly(partPath)
		return errors.WithContext(err, "close")
	}

	if err := c.sftp.PosixRename(partPath, remotePath); err != nil {
		c.removeQuietly(partPath)
		return errors.WithContext(err, "rename")
	}
	return nil
}

func (c *Conn) removeQuietly(remotePath string) {
	if err := c.sftp.Remove(remotePath); err != nil {
		log.WithError(err).WithField("path", remotePath).Warn(
			"Failed to remove partially transferred file")
	}
}

// Close releases the SFTP subsystem and the underlying connection.
func (c *Conn) Close() error {
	sftpErr := c.sftp.Close()
	clientErr := c.client.Close()
	c.closeAgent()

	if sftpErr != nil {
		return errors.WithContext(sftpErr, "close sftp")
	}
	if clientErr != nil {
		return errors.WithContext(clientErr, "close connection")
	}
	return nil
}

func (c *Conn) closeAgent() {
	if c.agent != nil {
		c.agent.Close()
		c.agent = nil
	}
}
