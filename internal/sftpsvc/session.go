package sftpsvc

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"

	oerrs "oxideterm/internal/errs"
	"oxideterm/internal/pool"
	"oxideterm/internal/router"
)

// Session wraps a cached *sftp.Client for one pool connection, lazily
// established on first use and torn down when the connection drops
// (spec §4.6 "SFTP Session").
type Session struct {
	log          *logrus.Entry
	connectionID string
	client       *sftp.Client
	mu           sync.Mutex
	cwd          string
}

// Manager lazily acquires and caches one SFTP *sftp.Client per pool
// connection, resolving nodes through a router.Router (spec §4.4 "SFTP
// acquisition", §4.6).
type Manager struct {
	log      *logrus.Entry
	router   *router.Router
	registry *pool.Registry

	mu       sync.Mutex
	sessions map[string]*Session // keyed by connection_id
}

func NewManager(log *logrus.Entry, r *router.Router, registry *pool.Registry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		log:      log.WithField("component", "sftp"),
		router:   r,
		registry: registry,
		sessions: make(map[string]*Session),
	}
}

// Acquire resolves nodeID to its connection and returns (creating, if
// necessary) the cached SFTP session, emitting SftpReady on the node's
// channel the first time a connection gets one (spec §4.4, §4.6).
func (m *Manager) Acquire(nodeID string) (*Session, error) {
	resolved, err := m.router.ResolveConnection(nodeID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	sess, ok := m.sessions[resolved.ConnectionID]
	m.mu.Unlock()
	if ok {
		return sess, nil
	}

	entry := m.registry.Get(resolved.ConnectionID)
	if entry == nil {
		return nil, oerrs.NotConnected(nodeID)
	}
	if entry.HasSFTP() {
		// Another caller raced us and already finished setup; fall
		// through to open our own client against the live channel
		// rather than trying to share *sftp.Client across goroutines
		// in ways pkg/sftp doesn't guarantee are safe for every op.
	}

	ch, err := resolved.Controller.OpenSessionRaw()
	if err != nil {
		return nil, oerrs.Wrap(oerrs.KindCapability, err, "sftp subsystem channel open failed")
	}
	ok2, err := ch.SendRequest("subsystem", true, sshMarshalSubsystem("sftp"))
	if err != nil || !ok2 {
		_ = ch.Close()
		return nil, oerrs.New(oerrs.KindCapability, "sftp subsystem request denied")
	}

	client, err := sftp.NewClientPipe(ch, ch)
	if err != nil {
		_ = ch.Close()
		return nil, oerrs.Wrap(oerrs.KindCapability, err, "sftp client init failed")
	}

	cwd, err := client.Getwd()
	if err != nil {
		cwd = "/"
	}

	sess = &Session{log: m.log, connectionID: resolved.ConnectionID, client: client, cwd: cwd}
	m.mu.Lock()
	m.sessions[resolved.ConnectionID] = sess
	m.mu.Unlock()

	entry.MarkSFTPReady(cwd)
	m.router.Emitter().EmitSftpReady(resolved.ConnectionID, true, cwd)
	return sess, nil
}

// Release tears down and forgets the session cached for connectionID,
// called on pool disconnect (spec §4.6).
func (m *Manager) Release(connectionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[connectionID]
	delete(m.sessions, connectionID)
	m.mu.Unlock()
	if ok {
		_ = sess.client.Close()
	}
}

func sshMarshalSubsystem(name string) []byte {
	b := make([]byte, 4+len(name))
	b[0] = byte(len(name) >> 24)
	b[1] = byte(len(name) >> 16)
	b[2] = byte(len(name) >> 8)
	b[3] = byte(len(name))
	copy(b[4:], name)
	return b
}

// Entry describes a directory listing row (spec §4.6 "listdir").
type Entry struct {
	Name    string
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
	IsDir   bool
}

func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

func (s *Session) Stat(remotePath string) (Entry, error) {
	fi, err := s.client.Stat(s.resolve(remotePath))
	if err != nil {
		return Entry{}, oerrs.Wrap(oerrs.KindTransfer, err, "stat failed")
	}
	return toEntry(fi), nil
}

func (s *Session) ListDir(remotePath string) ([]Entry, error) {
	infos, err := s.client.ReadDir(s.resolve(remotePath))
	if err != nil {
		return nil, oerrs.Wrap(oerrs.KindTransfer, err, "listdir failed")
	}
	out := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		out = append(out, toEntry(fi))
	}
	return out, nil
}

func (s *Session) Mkdir(remotePath string) error {
	return wrapErr(s.client.MkdirAll(s.resolve(remotePath)))
}

func (s *Session) Remove(remotePath string) error {
	return wrapErr(s.client.Remove(s.resolve(remotePath)))
}

func (s *Session) Rename(oldPath, newPath string) error {
	return wrapErr(s.client.Rename(s.resolve(oldPath), s.resolve(newPath)))
}

func (s *Session) OpenRead(remotePath string) (io.ReadCloser, error) {
	f, err := s.client.Open(s.resolve(remotePath))
	if err != nil {
		return nil, oerrs.Wrap(oerrs.KindTransfer, err, "open for read failed")
	}
	return f, nil
}

func (s *Session) OpenWrite(remotePath string) (io.WriteCloser, error) {
	f, err := s.client.Create(s.resolve(remotePath))
	if err != nil {
		return nil, oerrs.Wrap(oerrs.KindTransfer, err, "open for write failed")
	}
	return f, nil
}

func (s *Session) resolve(p string) string {
	return JoinRemote(s.Cwd(), p)
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return oerrs.Wrap(oerrs.KindTransfer, err, "sftp operation failed")
}

func toEntry(fi os.FileInfo) Entry {
	return Entry{Name: fi.Name(), Size: fi.Size(), Mode: fi.Mode(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}
}
