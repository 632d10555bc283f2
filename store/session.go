package store

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/aluiziolira/go-book-catalog/config"
)

// Session is a connection to a BaseX server.
type Session interface {
	// Execute runs a database command such as OPEN or DROP DB.
	Execute(command string) (string, error)
	// Create creates a database seeded with input.
	Create(name string, input []byte) error
	// Query runs an XQuery expression and returns its serialized result.
	Query(expr string) (string, error)
	Close() error
}

// Dialer opens a Session.
type Dialer func(ctx context.Context, cfg config.StoreConfig) (Session, error)

// ServerError carries the failure text returned by the server.
type ServerError struct {
	Command string
	Info    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("basex %s: %s", e.Command, strings.TrimSpace(e.Info))
}

const (
	codeQuery   byte = 0x00
	codeClose   byte = 0x02
	codeExecute byte = 0x05
	codeCreate  byte = 0x08

	escapeByte byte = 0xFF
)

// ClientSession speaks the BaseX client/server protocol over TCP.
type ClientSession struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	mu   sync.Mutex
}

// Dial connects and authenticates against a BaseX server.
func Dial(ctx context.Context, cfg config.StoreConfig) (Session, error) {
	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, err
	}
	s, err := NewClientSession(conn, cfg.User, cfg.Password)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewClientSession authenticates over an established connection.
func NewClientSession(conn net.Conn, user, password string) (*ClientSession, error) {
	s := &ClientSession{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
	if err := s.authenticate(user, password); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ClientSession) authenticate(user, password string) error {
	banner, err := s.readString()
	if err != nil {
		return fmt.Errorf("read server banner: %w", err)
	}

	var code string
	if realm, nonce, ok := strings.Cut(banner, ":"); ok {
		code = md5Hex(md5Hex(user+":"+realm+":"+password) + nonce)
	} else {
		code = md5Hex(md5Hex(password) + banner)
	}

	s.writeString(user)
	s.writeString(code)
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("send credentials: %w", err)
	}
	ok, err := s.readStatus()
	if err != nil {
		return fmt.Errorf("read auth status: %w", err)
	}
	if !ok {
		return errors.New("basex: access denied")
	}
	return nil
}

// Execute runs a database command.
func (s *ClientSession) Execute(command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeString(command)
	if err := s.w.Flush(); err != nil {
		return "", err
	}
	result, err := s.readString()
	if err != nil {
		return "", err
	}
	info, err := s.readString()
	if err != nil {
		return "", err
	}
	ok, err := s.readStatus()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &ServerError{Command: firstWord(command), Info: info}
	}
	return result, nil
}

// Create creates a database from input.
func (s *ClientSession) Create(name string, input []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w.WriteByte(codeCreate)
	s.writeString(name)
	s.writeBytes(input)
	if err := s.w.Flush(); err != nil {
		return err
	}
	info, err := s.readString()
	if err != nil {
		return err
	}
	ok, err := s.readStatus()
	if err != nil {
		return err
	}
	if !ok {
		return &ServerError{Command: "CREATE", Info: info}
	}
	return nil
}

// Query registers, executes, and closes a server-side query.
func (s *ClientSession) Query(expr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.queryCommand(codeQuery, expr)
	if err != nil {
		return "", err
	}
	result, execErr := s.queryCommand(codeExecute, id)
	if _, closeErr := s.queryCommand(codeClose, id); closeErr != nil && execErr == nil {
		var serverErr *ServerError
		if !errors.As(closeErr, &serverErr) {
			return "", closeErr
		}
	}
	if execErr != nil {
		return "", execErr
	}
	return result, nil
}

func (s *ClientSession) queryCommand(code byte, arg string) (string, error) {
	s.w.WriteByte(code)
	s.writeString(arg)
	if err := s.w.Flush(); err != nil {
		return "", err
	}
	result, err := s.readString()
	if err != nil {
		return "", err
	}
	ok, err := s.readStatus()
	if err != nil {
		return "", err
	}
	if !ok {
		info, err := s.readString()
		if err != nil {
			return "", err
		}
		return "", &ServerError{Command: "QUERY", Info: info}
	}
	return result, nil
}

// Close ends the session and releases the connection.
func (s *ClientSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeString("exit")
	flushErr := s.w.Flush()
	closeErr := s.conn.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (s *ClientSession) writeString(v string) {
	s.writeBytes([]byte(v))
}

// writeBytes sends a zero-terminated value, escaping 0x00 and 0xFF.
func (s *ClientSession) writeBytes(v []byte) {
	for _, b := range v {
		if b == 0x00 || b == escapeByte {
			s.w.WriteByte(escapeByte)
		}
		s.w.WriteByte(b)
	}
	s.w.WriteByte(0x00)
}

func (s *ClientSession) readString() (string, error) {
	var sb strings.Builder
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		switch b {
		case 0x00:
			return sb.String(), nil
		case escapeByte:
			if b, err = s.r.ReadByte(); err != nil {
				return "", err
			}
		}
		sb.WriteByte(b)
	}
}

func (s *ClientSession) readStatus() (bool, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return false, err
	}
	return b == 0x00, nil
}

func md5Hex(v string) string {
	sum := md5.Sum([]byte(v))
	return hex.EncodeToString(sum[:])
}

func firstWord(command string) string {
	if word, _, ok := strings.Cut(strings.TrimSpace(command), " "); ok {
		return strings.ToUpper(word)
	}
	return strings.ToUpper(strings.TrimSpace(command))
}
