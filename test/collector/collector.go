// Package collector is an upstream for end-to-end tests. It accepts any
// number of connections and records every newline-terminated line it
// receives.
package collector

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

type Server struct {
	ln net.Listener

	mu      sync.Mutex
	lines   [][]byte
	invalid [][]byte
	conns   int

	wg sync.WaitGroup
}

// Start listens on a random loopback port.
func Start() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("could not listen: %w", err)
	}
	s := &Server{ln: ln}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

// Addr is the address clients should dial.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.read(conn)
		}()
	}
}

func (s *Server) read(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			s.record(line, err == nil)
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) record(line []byte, terminated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body := bytes.TrimRight(line, "\r\n")
	if !terminated || !json.Valid(body) {
		s.invalid = append(s.invalid, line)
		return
	}
	s.lines = append(s.lines, body)
}

// Lines returns every valid line received so far, without its newline.
func (s *Server) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	for i, l := range s.lines {
		out[i] = string(l)
	}
	return out
}

// Invalid returns every line that was not a terminated JSON value.
func (s *Server) Invalid() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.invalid))
	for i, l := range s.invalid {
		out[i] = string(l)
	}
	return out
}

// Conns is the number of connections accepted.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// Close stops listening and waits for open connections to finish.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	return err
}
