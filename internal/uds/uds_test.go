package uds

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Sockets live under /tmp directly; t.TempDir paths can exceed the Unix
// socket path length limit on some platforms.
func tempSockPath(t *testing.T, name string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "conductor-uds-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, name)
}

func startTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	sockPath := tempSockPath(t, "t.sock")

	server := NewServer(sockPath)
	server.Handle("ping", func(req *Request) *Response {
		return SuccessResponse(map[string]string{"status": "ok"})
	})
	server.Handle("task", func(req *Request) *Response {
		var params struct {
			ID string `json:"id"`
		}
		if err := DecodeParams(req, &params); err != nil {
			return ErrorResponse(ErrCodeValidation, err.Error())
		}
		if params.ID != "known" {
			return ErrorResponse(ErrCodeNotFound, "task not found: "+params.ID)
		}
		return SuccessResponse(map[string]string{"id": params.ID, "state": "pending"})
	})

	if err := server.Start(); err != nil {
		t.Fatalf("server Start failed: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	client := NewClient(sockPath)
	client.SetTimeout(5 * time.Second)
	return server, client
}

func TestServer_PingRoundTrip(t *testing.T) {
	_, client := startTestServer(t)

	resp, err := client.SendCommand("ping", nil)
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp.Error)
	}

	var data map[string]string
	if err := resp.DecodeData(&data); err != nil {
		t.Fatalf("DecodeData failed: %v", err)
	}
	if data["status"] != "ok" {
		t.Errorf("status: got %q", data["status"])
	}
}

func TestServer_ParamsDispatch(t *testing.T) {
	_, client := startTestServer(t)

	resp, err := client.SendCommand("task", map[string]string{"id": "known"})
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp.Error)
	}

	resp, err = client.SendCommand("task", map[string]string{"id": "missing"})
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if resp.Success {
		t.Fatal("expected not-found failure")
	}
	if resp.Error.Code != ErrCodeNotFound {
		t.Errorf("code: got %q, want %q", resp.Error.Code, ErrCodeNotFound)
	}
	if err := resp.Err(); err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("Err(): got %v", err)
	}
}

func TestServer_UnknownCommand(t *testing.T) {
	_, client := startTestServer(t)

	resp, err := client.SendCommand("reboot", nil)
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.Error.Code != ErrCodeUnknownCommand {
		t.Errorf("code: got %q, want %q", resp.Error.Code, ErrCodeUnknownCommand)
	}
}

func TestServer_ProtocolMismatch(t *testing.T) {
	_, client := startTestServer(t)

	resp, err := client.Send(&Request{ProtocolVersion: 99, Command: "ping"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.Error.Code != ErrCodeProtocolMismatch {
		t.Errorf("code: got %q, want %q", resp.Error.Code, ErrCodeProtocolMismatch)
	}
	if !strings.Contains(resp.Error.Message, "got 99") {
		t.Errorf("message: got %q", resp.Error.Message)
	}
}

func TestServer_SocketPermissions(t *testing.T) {
	sockPath := tempSockPath(t, "perm.sock")
	server := NewServer(sockPath)
	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer server.Stop()

	info, err := os.Stat(sockPath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket permissions: got %o, want 600", perm)
	}
}

func TestServer_RemovesStaleSocket(t *testing.T) {
	sockPath := tempSockPath(t, "stale.sock")

	// A leftover file from a crashed daemon must not block the next start.
	if err := os.WriteFile(sockPath, nil, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	server := NewServer(sockPath)
	server.Handle("ping", func(req *Request) *Response { return SuccessResponse(nil) })
	if err := server.Start(); err != nil {
		t.Fatalf("Start over stale socket failed: %v", err)
	}
	defer server.Stop()

	client := NewClient(sockPath)
	client.SetTimeout(2 * time.Second)
	if _, err := client.SendCommand("ping", nil); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
}

func TestServer_StopRemovesSocket(t *testing.T) {
	sockPath := tempSockPath(t, "stop.sock")
	server := NewServer(sockPath)
	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := os.Stat(sockPath); !os.IsNotExist(err) {
		t.Errorf("socket file still present after Stop")
	}
}

func TestServer_IdleConnectionTimeout(t *testing.T) {
	sockPath := tempSockPath(t, "idle.sock")
	server := NewServer(sockPath)
	server.SetConnTimeout(500 * time.Millisecond)
	server.Handle("ping", func(req *Request) *Response {
		return SuccessResponse(map[string]string{"status": "ok"})
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	// Dial and go silent; the deadline should close the connection.
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(800 * time.Millisecond)

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected read error after server dropped idle connection")
	}

	// New clients are unaffected.
	client := NewClient(sockPath)
	client.SetTimeout(2 * time.Second)
	resp, err := client.SendCommand("ping", nil)
	if err != nil {
		t.Fatalf("SendCommand after idle close: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp.Error)
	}
}

func TestClient_MissingSocketHint(t *testing.T) {
	client := NewClient(tempSockPath(t, "nobody.sock"))
	client.SetTimeout(500 * time.Millisecond)

	_, err := client.SendCommand("ping", nil)
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !strings.Contains(err.Error(), "conductor daemon") {
		t.Errorf("error should hint at starting the daemon: %v", err)
	}
}

func TestReadFrame_RejectsOversizedFrame(t *testing.T) {
	sockPath := tempSockPath(t, "big.sock")

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	errCh := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			errCh <- err
			return
		}
		defer conn.Close()
		var req Request
		errCh <- ReadFrame(conn, &req)
	}()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Announce a frame beyond the cap without sending a payload.
	if err := binary.Write(conn, binary.BigEndian, uint32(maxFrameSize+1)); err != nil {
		t.Fatalf("write length: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "frame too large") {
			t.Errorf("got %v, want frame-too-large error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never rejected the frame")
	}
}

func TestFraming_LargePayloadWithinLimit(t *testing.T) {
	sockPath := tempSockPath(t, "large.sock")

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	payload := strings.Repeat("x", 1024*1024)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var req Request
		if err := ReadFrame(conn, &req); err != nil {
			t.Errorf("server ReadFrame: %v", err)
			return
		}
		var params map[string]string
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.Errorf("unmarshal params: %v", err)
			return
		}
		if len(params["blob"]) != len(payload) {
			t.Errorf("payload length: got %d, want %d", len(params["blob"]), len(payload))
		}
		_ = WriteFrame(conn, SuccessResponse(nil))
	}()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, err := NewRequest("submit", map[string]string{"blob": payload})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if err := WriteFrame(conn, req); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	<-done
}
