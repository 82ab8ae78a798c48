package electrum

import (
	"bufio"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/bardlex/gobt/pkg/log"
)

// testLogger returns a quiet logger for tests.
func testLogger() *log.Logger {
	return log.New("electrum-test", "dev", "error", "text")
}

// fakeHandler produces the result or error for one request.
type fakeHandler func(params []any) (any, *ServerError)

// fakeElectrumServer is a scriptable line protocol server on a loopback
// port. It accepts any number of sequential connections, answers from a
// per-method handler table and records every request it sees. Misbehavior
// can be scripted per instance to exercise client error paths.
type fakeElectrumServer struct {
	t        *testing.T
	listener net.Listener

	mu       sync.Mutex
	handlers map[string]fakeHandler
	seen     []string
	silenced map[string]bool
	wrongID  bool
	garbage  bool
	conns    []net.Conn
}

// newFakeServer starts a fake server with working defaults for the
// handshake methods. It shuts down with the test.
func newFakeServer(t *testing.T) *fakeElectrumServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := &fakeElectrumServer{
		t:        t,
		listener: listener,
		handlers: make(map[string]fakeHandler),
		silenced: make(map[string]bool),
	}
	s.handleResult(MethodServerVersion, []string{"FakeElectrumX 1.0", "1.4"})
	s.handleResult(MethodServerFeatures, map[string]any{
		"genesis_hash":   mainnetGenesisHash,
		"server_version": "FakeElectrumX 1.0",
		"protocol_max":   "1.4",
		"protocol_min":   "1.4",
		"hash_function":  "sha256",
	})
	s.handleResult(MethodPeersSubscribe, []any{})

	go s.acceptLoop()
	t.Cleanup(s.close)
	return s
}

// addr returns the server's host:port string.
func (s *fakeElectrumServer) addr() string {
	return s.listener.Addr().String()
}

// endpoint returns the server as a plaintext endpoint.
func (s *fakeElectrumServer) endpoint() ServerEndpoint {
	tcpAddr := s.listener.Addr().(*net.TCPAddr)
	return ServerEndpoint{Host: "127.0.0.1", Port: tcpAddr.Port}
}

// handle installs a handler for a method.
func (s *fakeElectrumServer) handle(method string, fn fakeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// handleResult installs a handler returning a fixed result.
func (s *fakeElectrumServer) handleResult(method string, result any) {
	s.handle(method, func([]any) (any, *ServerError) {
		return result, nil
	})
}

// silenceMethod makes the server swallow requests for a method without
// answering, so client reads run into their deadline.
func (s *fakeElectrumServer) silenceMethod(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silenced[method] = true
}

// answerWrongID makes every response carry a mismatched id.
func (s *fakeElectrumServer) answerWrongID() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrongID = true
}

// answerGarbage makes every response a non-JSON line.
func (s *fakeElectrumServer) answerGarbage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.garbage = true
}

// countMethod returns how many requests for a method arrived so far.
func (s *fakeElectrumServer) countMethod(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, seen := range s.seen {
		if seen == method {
			count++
		}
	}
	return count
}

// requestCount returns the total number of requests seen.
func (s *fakeElectrumServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *fakeElectrumServer) close() {
	s.listener.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
}

func (s *fakeElectrumServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *fakeElectrumServer) serve(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		s.mu.Lock()
		s.seen = append(s.seen, req.Method)
		silenced := s.silenced[req.Method]
		wrongID, garbage := s.wrongID, s.garbage
		handler := s.handlers[req.Method]
		s.mu.Unlock()

		if silenced {
			continue
		}
		if garbage {
			conn.Write([]byte("this is not json\n"))
			continue
		}

		id := req.ID
		if wrongID {
			id += 1000
		}

		resp := map[string]any{"id": id}
		if handler == nil {
			resp["error"] = map[string]any{"code": -32601, "message": "unknown method"}
		} else if result, serr := handler(req.Params); serr != nil {
			resp["error"] = map[string]any{"code": serr.Code, "message": serr.Message}
		} else {
			resp["result"] = result
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		if _, err := conn.Write(append(payload, '\n')); err != nil {
			return
		}
	}
}

// peerRow builds one server.peers.subscribe entry advertising a single
// transport for the given endpoint.
func peerRow(ep ServerEndpoint) []any {
	token := "t"
	if ep.UseTLS {
		token = "s"
	}
	return []any{
		ep.Host,
		ep.Host,
		[]any{"v1.4", token + strconv.Itoa(ep.Port)},
	}
}
