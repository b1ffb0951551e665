package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message types exchanged over the control socket. Requests flow from
// clients to the daemon; events are broadcast to every client.
const (
	TypeSave   = "save"   // request: save the last seconds of a channel
	TypeStatus = "status" // request: report channel state

	TypeSaved    = "saved"    // reply/event: a recording was written
	TypeSwitched = "switched" // event: a channel moved to another device
	TypeStopped  = "stopped"  // event: a capture stream ended
	TypeError    = "error"    // reply: the request failed
)

// Message is one JSON line on the control socket.
type Message struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Channel string `json:"channel,omitempty"`
	Device  string `json:"device,omitempty"`

	Path     string  `json:"path,omitempty"`
	Duration float64 `json:"duration_seconds,omitempty"`
	Clamped  bool    `json:"clamped,omitempty"`

	Channels []ChannelStatus `json:"channels,omitempty"`

	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// ChannelStatus is one entry of a status reply.
type ChannelStatus struct {
	Channel  string  `json:"channel"`
	Device   string  `json:"device"`
	State    string  `json:"state"`
	Buffered float64 `json:"buffered_seconds"`
}

// Handler answers a request. The returned message is written back to the
// requesting client only.
type Handler func(ctx context.Context, req Message) Message

type client struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(data)
	return err
}

// SocketServer serves requests and pushes events over a Unix socket.
type SocketServer struct {
	path     string
	handler  Handler
	logger   *zap.Logger
	listener net.Listener
	clients  map[*client]bool
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSocketServer creates a new Unix socket server.
func NewSocketServer(path string, handler Handler, logger *zap.Logger) *SocketServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SocketServer{
		path:    path,
		handler: handler,
		logger:  logger.Named("socket"),
		clients: make(map[*client]bool),
	}
}

// Start begins listening for connections.
func (s *SocketServer) Start(ctx context.Context) error {
	// Remove a stale socket file from a previous run
	os.Remove(s.path)

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	s.listener = listener

	// Only the owner may connect
	os.Chmod(s.path, 0700)

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop shuts down the server and waits for client handlers to exit.
func (s *SocketServer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.listener.Close()

	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.clients = make(map[*client]bool)
	s.mu.Unlock()

	s.wg.Wait()
	os.Remove(s.path)
}

// Broadcast sends a message to all connected clients.
func (s *SocketServer) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.RLock()
	defer s.mu.RUnlock()

	for c := range s.clients {
		c.write(data)
	}
}

// ClientCount returns the number of connected clients.
func (s *SocketServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *SocketServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		c := &client{conn: conn}
		s.mu.Lock()
		s.clients[c] = true
		s.mu.Unlock()

		s.logger.Debug("client connected", zap.Int("clients", s.ClientCount()))

		s.wg.Add(1)
		go s.handleClient(c)
	}
}

func (s *SocketServer) handleClient(c *client) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.conn.Close()
		s.logger.Debug("client disconnected", zap.Int("clients", s.ClientCount()))
	}()

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		var req Message
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.reply(c, Message{Type: TypeError, Error: "malformed request"})
			continue
		}
		s.logger.Debug("request", zap.String("type", req.Type), zap.String("channel", req.Channel))

		reply := Message{Type: TypeError, Error: "no handler"}
		if s.handler != nil {
			reply = s.handler(s.ctx, req)
		}
		reply.ID = req.ID
		s.reply(c, reply)
	}
}

func (s *SocketServer) reply(c *client, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := c.write(append(data, '\n')); err != nil {
		s.logger.Debug("reply failed", zap.Error(err))
	}
}

// Call sends one request to the daemon at path and waits for its reply.
// Events broadcast in the meantime are skipped.
func Call(ctx context.Context, path string, req Message) (Message, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Message{}, fmt.Errorf("daemon not reachable at %s: %w", path, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return Message{}, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return Message{}, err
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.ID != req.ID {
			continue
		}
		if msg.Type == TypeError {
			return msg, errors.New(msg.Error)
		}
		return msg, nil
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if err := scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, errors.New("daemon closed the connection")
}

// SocketClient follows the daemon's event stream.
type SocketClient struct {
	conn      net.Conn
	connected bool
	onMessage func(Message)
	mu        sync.Mutex
	done      chan struct{}
}

// NewSocketClient creates a new socket client.
func NewSocketClient() *SocketClient {
	return &SocketClient{}
}

// OnMessage sets the callback for incoming messages. Set it before Connect.
func (c *SocketClient) OnMessage(callback func(Message)) {
	c.onMessage = callback
}

// Connect connects to the socket server.
func (c *SocketClient) Connect(path string) error {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop()
	return nil
}

// Done is closed when the connection ends.
func (c *SocketClient) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Close closes the connection.
func (c *SocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.connected = false
	}
}

// IsConnected returns whether the client is connected.
func (c *SocketClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *SocketClient) readLoop() {
	defer close(c.done)
	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}
