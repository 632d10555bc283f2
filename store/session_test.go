package store

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"testing"
)

// fakeServer plays the server side of the protocol for a scripted exchange.
type fakeServer struct {
	t *testing.T
	r *bufio.Reader
	w net.Conn
}

func (f *fakeServer) read() string {
	var sb strings.Builder
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			f.t.Errorf("server read: %v", err)
			return ""
		}
		if b == 0x00 {
			return sb.String()
		}
		if b == 0xFF {
			b, _ = f.r.ReadByte()
		}
		sb.WriteByte(b)
	}
}

func (f *fakeServer) readByte() byte {
	b, err := f.r.ReadByte()
	if err != nil {
		f.t.Errorf("server read byte: %v", err)
	}
	return b
}

func (f *fakeServer) write(parts ...string) {
	for _, p := range parts {
		if _, err := f.w.Write([]byte(p)); err != nil {
			f.t.Errorf("server write: %v", err)
		}
	}
}

func startFake(t *testing.T, script func(f *fakeServer)) (net.Conn, chan struct{}) {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		script(&fakeServer{t: t, r: bufio.NewReader(server), w: server})
	}()
	return client, done
}

func TestClientSessionProtocol(t *testing.T) {
	const user, password = "admin", "admin"
	wantCode := md5Hex(md5Hex(user+":BaseX:"+password) + "12345")

	conn, done := startFake(t, func(f *fakeServer) {
		f.write("BaseX:12345\x00")
		if got := f.read(); got != user {
			t.Errorf("user = %q", got)
		}
		if got := f.read(); got != wantCode {
			t.Errorf("auth code = %q, want %q", got, wantCode)
		}
		f.write("\x00")

		if got := f.read(); got != "DROP DB BookCatalog" {
			t.Errorf("command = %q", got)
		}
		f.write("\x00", "Database 'BookCatalog' was dropped.\x00", "\x00")

		if code := f.readByte(); code != codeCreate {
			t.Errorf("create code = %x", code)
		}
		if got := f.read(); got != "BookCatalog" {
			t.Errorf("create name = %q", got)
		}
		if got := f.read(); got != "<books/>" {
			t.Errorf("create input = %q", got)
		}
		f.write("Database created.\x00", "\x00")

		if code := f.readByte(); code != codeQuery {
			t.Errorf("query code = %x", code)
		}
		if got := f.read(); got != "count(/books)" {
			t.Errorf("query = %q", got)
		}
		f.write("q1\x00", "\x00")
		if code := f.readByte(); code != codeExecute {
			t.Errorf("execute code = %x", code)
		}
		f.read()
		f.write("1\n\x00", "\x00")
		if code := f.readByte(); code != codeClose {
			t.Errorf("close code = %x", code)
		}
		f.read()
		f.write("\x00", "\x00")

		if code := f.readByte(); code != codeQuery {
			t.Errorf("query code = %x", code)
		}
		f.read()
		f.write("\x00", "\x01", "Stopped at line 1: syntax error\x00")

		if got := f.read(); got != "exit" {
			t.Errorf("exit = %q", got)
		}
	})

	s, err := NewClientSession(conn, user, password)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := s.Execute("DROP DB BookCatalog"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := s.Create("BookCatalog", []byte("<books/>")); err != nil {
		t.Fatalf("create: %v", err)
	}
	result, err := s.Query("count(/books)")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result != "1\n" {
		t.Fatalf("result = %q", result)
	}

	_, err = s.Query("for $x in")
	var serverErr *ServerError
	if !errors.As(err, &serverErr) || !strings.Contains(serverErr.Info, "syntax error") {
		t.Fatalf("expected server error, got %v", err)
	}

	s.Close()
	<-done
}

func TestClientSessionAccessDenied(t *testing.T) {
	conn, done := startFake(t, func(f *fakeServer) {
		f.write("nonce\x00")
		f.read()
		f.read()
		f.write("\x01")
	})

	if _, err := NewClientSession(conn, "admin", "wrong"); err == nil {
		t.Fatalf("expected access denied")
	}
	conn.Close()
	<-done
}

func TestEscapedValues(t *testing.T) {
	conn, done := startFake(t, func(f *fakeServer) {
		f.write("n\x00")
		f.read()
		f.read()
		f.write("\x00")
		if got := f.read(); got != "a\x00b\xffc" {
			t.Errorf("escaped command = %q", got)
		}
		f.write("x\xff\x00y\x00", "\x00", "\x00")
	})

	s, err := NewClientSession(conn, "u", "p")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	result, err := s.Execute("a\x00b\xffc")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != "x\x00y" {
		t.Fatalf("result = %q", result)
	}
	conn.Close()
	<-done
}
