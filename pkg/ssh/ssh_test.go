package ssh

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type execResult struct {
	stdout, stderr string
	status         uint32
}

// testServer is an in-process SSH server that answers exec requests from a
// fixed table and serves SFTP from the local filesystem.
type testServer struct {
	addr     string
	listener net.Listener
	execs    map[string]execResult
}

func newTestServer(t *testing.T, clientKey ssh.PublicKey, execs map[string]execResult) (*testServer, ssh.PublicKey) {
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), clientKey.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &testServer{addr: listener.Addr().String(), listener: listener, execs: execs}
	go func() {
		for {
			nConn, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(nConn, config)
		}
	}()
	t.Cleanup(func() { listener.Close() })
	return srv, hostSigner.PublicKey()
}

func (srv *testServer) serveConn(nConn net.Conn, config *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nConn, config)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}

		ch, requests, err := newChan.Accept()
		if err != nil {
			return
		}
		go srv.serveSession(ch, requests)
	}
}

func (srv *testServer) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			res, ok := srv.execs[payload.Command]
			if !ok {
				res = execResult{stderr: "command not found\n", status: 127}
			}
			ch.Write([]byte(res.stdout))
			ch.Stderr().Write([]byte(res.stderr))
			ch.SendRequest("exit-status", false,
				ssh.Marshal(struct{ Status uint32 }{res.status}))
			ch.Close()
			return
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			server, err := sftp.NewServer(ch)
			if err != nil {
				ch.Close()
				return
			}
			go func() {
				server.Serve()
				ch.Close()
			}()
		default:
			req.Reply(false, nil)
		}
	}
}

type testEnv struct {
	server *testServer
	cfg    Config
}

func newTestEnv(t *testing.T, execs map[string]execResult) testEnv {
	dir := t.TempDir()

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(clientPriv)
	require.NoError(t, err)
	identityFile := filepath.Join(dir, "id_ed25519")
	require.NoError(t, ioutil.WriteFile(identityFile,
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600))

	sshClientPub, err := ssh.NewPublicKey(clientPub)
	require.NoError(t, err)
	server, hostKey := newTestServer(t, sshClientPub, execs)

	knownHostsFile := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(server.addr)}, hostKey)
	require.NoError(t, ioutil.WriteFile(knownHostsFile, []byte(line+"\n"), 0600))

	return testEnv{
		server: server,
		cfg: Config{
			Host:           server.addr,
			User:           "hive",
			IdentityFile:   identityFile,
			KnownHostsFile: knownHostsFile,
		},
	}
}

func TestExec(t *testing.T) {
	env := newTestEnv(t, map[string]execResult{
		`hive -e "SHOW PARTITIONS pagecounts;"`: {
			stdout: "y=2014/ym=201406/ymd=20140601/h=00\n",
			stderr: "OK\n",
		},
		"false": {stderr: "FAILED: nope\n", status: 1},
	})

	conn, err := Dial(env.cfg)
	require.NoError(t, err)
	defer conn.Close()

	out, err := conn.Exec(`hive -e "SHOW PARTITIONS pagecounts;"`)
	require.NoError(t, err)
	assert.Equal(t, "y=2014/ym=201406/ymd=20140601/h=00\n", string(out.Stdout))
	assert.Equal(t, "OK\n", string(out.Stderr))
	assert.Equal(t, 0, out.ExitStatus)

	out, err = conn.Exec("false")
	require.NoError(t, err, "a non-zero exit status isn't a transport error")
	assert.Equal(t, "FAILED: nope\n", string(out.Stderr))
	assert.Equal(t, 1, out.ExitStatus)
}

func TestFileTransfer(t *testing.T) {
	env := newTestEnv(t, nil)
	root := filepath.Join(t.TempDir(), "warehouse")

	conn, err := Dial(env.cfg)
	require.NoError(t, err)
	defer conn.Close()

	files, err := conn.Walk(root)
	require.NoError(t, err)
	assert.Empty(t, files, "a missing root has no files")

	dir := root + "/y=2014/ym=201406/ymd=20140601/h=00"
	require.NoError(t, conn.MkdirAll(dir))
	require.NoError(t, conn.MkdirAll(dir), "MkdirAll is idempotent")

	remotePath := dir + "/pagecounts-20140601-000000.gz"
	require.NoError(t, conn.Put(bytes.NewBufferString("contents"), remotePath))

	contents, err := ioutil.ReadFile(remotePath)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(contents))

	_, err = os.Stat(dir + "/.pagecounts-20140601-000000.gz.part")
	assert.True(t, os.IsNotExist(err), "the partial file is renamed into place")

	require.NoError(t, ioutil.WriteFile(root+"/README", nil, 0644))
	files, err = conn.Walk(root)
	require.NoError(t, err)
	sort.Strings(files)
	assert.Equal(t, []string{root + "/README", remotePath}, files)
}

func TestDialUnknownHostKey(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, ioutil.WriteFile(env.cfg.KnownHostsFile, nil, 0600))

	_, err := Dial(env.cfg)
	assert.Error(t, err)
}

func TestDialMissingFields(t *testing.T) {
	_, err := Dial(Config{KnownHostsFile: "known_hosts"})
	assert.Error(t, err)

	_, err = Dial(Config{Host: "warehouse"})
	assert.Error(t, err)
}

func TestDialWithoutCredentials(t *testing.T) {
	env := newTestEnv(t, nil)
	env.cfg.IdentityFile = ""
	getenv = func(string) string { return "" }
	defer func() { getenv = os.Getenv }()

	_, err := Dial(env.cfg)
	assert.Error(t, err)
}
