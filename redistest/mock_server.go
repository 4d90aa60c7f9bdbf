package redistest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mna/rcluster"
	"github.com/mna/rcluster/redistest/resp"
	"github.com/stretchr/testify/require"
)

// MockHandler computes the Reply for one command received by a
// MockServer, in the same Command/Reply vocabulary an Adapter's
// Connection.Execute uses. This lets tests script a node's behavior
// (a value, a MOVED/ASK redirect, a connection error) without the
// mock server knowing anything about the wire format beyond decoding
// the request and encoding the Reply it gets back.
type MockHandler func(cmd rcluster.Command) rcluster.Reply

// MockServer is a mock redis server that dispatches every decoded
// request through a MockHandler.
type MockServer struct {
	Addr string

	done chan struct{}
	wg   sync.WaitGroup
	h    MockHandler
	t    *testing.T
	l    net.Listener
}

// StartMockServer creates and starts a mock redis server. handler is
// called for each command received by the server, and its Reply is
// translated back to the wire. The caller should close the server
// after use.
func StartMockServer(t *testing.T, handler MockHandler) *MockServer {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err, "net.Listen")

	_, port, _ := net.SplitHostPort(l.Addr().String())
	s := &MockServer{
		Addr: ":" + port,
		done: make(chan struct{}),
		h:    handler,
		t:    t,
		l:    l,
	}
	go s.serve()
	return s
}

// Close closes the mock redis server.
func (s *MockServer) Close() {
	select {
	case <-s.done:
		return
	default:
	}

	require.NoError(s.t, s.l.Close(), "Close listener")
	<-s.done
	exit := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(exit)
	}()

	// wait for a few seconds for connections to finish, otherwise fail
	select {
	case <-exit:
		return
	case <-time.After(5 * time.Second):
		s.t.Fatal("failed to cleanly stop the mock server")
	}
}

func (s *MockServer) serve() {
	defer close(s.done)
	for {
		conn, err := s.l.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *MockServer) serveConn(c net.Conn) {
	defer s.wg.Done()

	go func() {
		<-s.done
		c.Close()
	}()

	br := bufio.NewReader(c)
	for {
		ar, err := resp.DecodeRequest(br)
		if err != nil {
			return
		}

		cmd := rcluster.Command{Name: ar[0], Args: stringsToArgs(ar[1:])}
		reply := s.h(cmd)
		if err := encodeReply(c, reply); err != nil {
			panic(err)
		}
	}
}

// stringsToArgs boxes the bulk-string arguments of a decoded request as
// Command.Args. A real client always sends arguments as bulk strings
// over the wire, regardless of the Go type it started from.
func stringsToArgs(ar []string) []interface{} {
	if len(ar) == 0 {
		return nil
	}
	args := make([]interface{}, len(ar))
	for i, a := range ar {
		args[i] = a
	}
	return args
}

// encodeReply translates reply, in the Adapter's own Reply vocabulary,
// to the wire form a real cluster node would send: a value reply is
// encoded as-is, a redirect is encoded as a RESP error in the
// "MOVED/ASK <slot> <ip>:<port>" form parseRedirect expects, and any
// other error is encoded as a generic RESP error.
func encodeReply(w io.Writer, reply rcluster.Reply) error {
	switch reply.Kind {
	case rcluster.RedirectReply:
		return resp.Encode(w, resp.Error(fmt.Sprintf("%s 0 %s", reply.Redirect.Kind, reply.Redirect.Addr())))
	case rcluster.ConnErrorReply:
		msg := "connection error"
		if reply.Err != nil {
			msg = reply.Err.Error()
		}
		return resp.Encode(w, resp.Error(msg))
	default:
		return resp.Encode(w, reply.Value)
	}
}
