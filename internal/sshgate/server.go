// Package sshgate is the SSH front door: a proxy that authenticates
// inbound SSH connections by public key, authorizes them against the key
// table, and bridges accepted sessions to a shell on the backend node.
//
// The username field is overloaded to carry "<target>/<claimed_user>".
// Only the public key determines who the caller is; the claimed user is
// recorded for logging but grants nothing. Only publickey authentication
// is advertised and only session channels are accepted. PTY, shell and
// exec requests are forwarded to the node without interpretation.
package sshgate

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arcten/shellgate/internal/access"
	"github.com/arcten/shellgate/internal/bridge"
	"github.com/arcten/shellgate/internal/clusters"
	"github.com/arcten/shellgate/internal/session"
	"github.com/arcten/shellgate/internal/usage"
	"golang.org/x/crypto/ssh"
)

// Permission extension keys carrying the auth-time authorization result
// to the channel-handling phase. Authorization is never re-evaluated
// after auth.
const (
	permIdentity = "shellgate-identity"
	permUserID   = "shellgate-user-id"
	permOrgID    = "shellgate-org-id"
	permTarget   = "shellgate-target"
	permClaimed  = "shellgate-claimed-user"
)

// Server is the SSH listener front door.
type Server struct {
	config   *ssh.ServerConfig
	keys     *access.KeyTable
	resolver *clusters.Resolver
	registry *session.Registry
	recorder usage.Recorder

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

// New builds a server around the given host key and collaborators.
func New(hostKey ssh.Signer, keys *access.KeyTable, resolver *clusters.Resolver, registry *session.Registry, recorder usage.Recorder) *Server {
	s := &Server{
		keys:     keys,
		resolver: resolver,
		registry: registry,
		recorder: recorder,
	}
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: s.authenticate,
	}
	cfg.AddHostKey(hostKey)
	s.config = cfg
	return s
}

// authenticate is the publickey callback. It resolves the presented key
// to a real identity and checks that identity's allow-list for the target
// named in the username. The error returned to the SSH layer is always
// generic: the client learns only that authentication failed.
func (s *Server) authenticate(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	target, claimed, ok := strings.Cut(conn.User(), "/")
	if !ok || target == "" {
		log.Printf("[sshgate] deny %s: username %q not in <target>/<user> form",
			conn.RemoteAddr(), conn.User())
		return nil, fmt.Errorf("authentication failed")
	}

	name, id, err := s.keys.Authorize(key, target)
	if err != nil {
		log.Printf("[sshgate] deny %s: key %s not authorized for target %q",
			conn.RemoteAddr(), ssh.FingerprintSHA256(key), target)
		return nil, fmt.Errorf("authentication failed")
	}

	log.Printf("[sshgate] allow %s: key %s is %q (user=%d org=%d), target %q, claimed user %q",
		conn.RemoteAddr(), ssh.FingerprintSHA256(key), name, id.UserID, id.OrgID, target, claimed)

	return &ssh.Permissions{
		Extensions: map[string]string{
			permIdentity: name,
			permUserID:   strconv.FormatUint(uint64(id.UserID), 10),
			permOrgID:    strconv.FormatUint(uint64(id.OrgID), 10),
			permTarget:   target,
			permClaimed:  claimed,
		},
	}, nil
}

// Listen binds addr and starts accepting connections. Each connection is
// served on its own goroutine so one slow peer cannot stall the accept
// loop.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	log.Printf("[sshgate] listening on %s (%d keys loaded)", ln.Addr(), s.keys.Len())

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listen address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops the listener. In-flight sessions keep running until their
// own termination paths fire; the registry shutdown tears them down.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		netConn, err := ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(netConn)
		}()
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sconn.Close()

	go ssh.DiscardRequests(reqs)

	uid, _ := strconv.ParseUint(sconn.Permissions.Extensions[permUserID], 10, 32)
	oid, _ := strconv.ParseUint(sconn.Permissions.Extensions[permOrgID], 10, 32)
	caller := access.Identity{UserID: uint(uid), OrgID: uint(oid)}
	target := sconn.Permissions.Extensions[permTarget]

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		nc := newChannel
		go s.handleSessionChannel(nc, caller, target)
	}
}

// handleSessionChannel runs one proxied shell: mint a registry session,
// dial the backend node, forward terminal requests, and bridge bytes
// until either side ends.
func (s *Server) handleSessionChannel(newChannel ssh.NewChannel, caller access.Identity, target string) {
	params, resolveErr := s.resolver.ResolveByName(target)

	channel, requests, err := newChannel.Accept()
	if err != nil {
		return
	}

	if resolveErr != nil {
		log.Printf("[sshgate] target %q unresolvable: %v", target, resolveErr)
		failChannel(channel, requests, "shellgate: target is not available")
		return
	}

	sess := s.registry.Create(caller, params.ClusterID)
	defer s.registry.Destroy(sess.ID)

	if _, err := s.registry.Attach(sess.ID, caller); err != nil {
		failChannel(channel, requests, "shellgate: session unavailable")
		return
	}

	up, err := dialUpstream(params)
	if err != nil {
		log.Printf("[sshgate] session %s: %v", sess.ID, err)
		failChannel(channel, requests, "shellgate: cannot reach node")
		return
	}

	// Forward pty/shell/exec/window-change to the node. The proxy does
	// not interpret commands.
	started := make(chan struct{}, 1)
	go func() {
		for req := range requests {
			ok := up.forward(req)
			if req.WantReply {
				req.Reply(ok, nil)
			}
			if ok && (req.Type == "shell" || req.Type == "exec") {
				select {
				case started <- struct{}{}:
				default:
				}
			}
		}
	}()

	select {
	case <-started:
	case <-time.After(30 * time.Second):
		up.Close()
		channel.Close()
		return
	case <-sess.Done():
		up.Close()
		channel.Close()
		return
	}

	ev := usage.Event{SessionID: sess.ID, Caller: caller, ClusterID: params.ClusterID, FrontDoor: "ssh"}
	s.recorder.SessionStarted(ev)
	begin := time.Now()

	res := bridge.Run(sess, channel, up)

	s.recorder.SessionEnded(ev, time.Since(begin), res.BytesToTarget, res.BytesToClient)

	status := struct{ Status uint32 }{uint32(up.exitStatus())}
	channel.SendRequest("exit-status", false, ssh.Marshal(&status))
	channel.Close()
}

// failChannel delivers a short diagnostic and closes the channel. Pending
// requests are drained and refused so the client does not hang.
func failChannel(channel ssh.Channel, requests <-chan *ssh.Request, msg string) {
	go func() {
		for req := range requests {
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}()
	fmt.Fprintf(channel, "%s\r\n", msg)
	status := struct{ Status uint32 }{1}
	channel.SendRequest("exit-status", false, ssh.Marshal(&status))
	channel.Close()
}
