package notify

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/imcf/image-tools/internal/config"
)

// fakeSMTP is a minimal SMTP server accepting every message.
type fakeSMTP struct {
	ln   net.Listener
	mu   sync.Mutex
	data []string
	rcpt []string
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	s := &fakeSMTP{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *fakeSMTP) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSMTP) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { conn.Write([]byte(line + "\r\n")) }

	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250-localhost")
			reply("250 8BITMIME")
		case strings.HasPrefix(cmd, "RCPT TO"):
			s.mu.Lock()
			s.rcpt = append(s.rcpt, strings.TrimSpace(line))
			s.mu.Unlock()
			reply("250 OK")
		case cmd == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if strings.TrimRight(l, "\r\n") == "." {
					break
				}
				body.WriteString(l)
			}
			s.mu.Lock()
			s.data = append(s.data, body.String())
			s.mu.Unlock()
			reply("250 OK queued")
		case cmd == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func (s *fakeSMTP) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.data...)
}

func testJob() Job {
	return Job{Name: "Segmentation", Recipient: "user@example.org", File: "plate1.czi", Elapsed: "00:12:03.50"}
}

func TestJob_Body(t *testing.T) {
	body := testJob().Body()
	for _, want := range []string{
		"Your workflow 'Segmentation' has been successfully completed.",
		"- File: plate1.czi",
		"- Total execution time: 00:12:03.50",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body does not contain %q:\n%s", want, body)
		}
	}
	if got := testJob().Subject(); got != "Your Segmentation job has finished" {
		t.Errorf("Subject: got %q", got)
	}
}

func TestSendJobCompleted_Unconfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Mail
		job  Job
	}{
		{"no sender", config.Mail{SMTPServer: "127.0.0.1"}, testJob()},
		{"no server", config.Mail{Sender: "imcf@example.org"}, testJob()},
		{"no recipient", config.Mail{Sender: "imcf@example.org", SMTPServer: "127.0.0.1"}, Job{Name: "x", Recipient: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			m := NewMailer(tt.cfg, zerolog.New(&logBuf))
			if err := m.SendJobCompleted(context.Background(), tt.job); err != nil {
				t.Errorf("got %v, want nil", err)
			}
			if strings.Contains(logBuf.String(), `"level":"warn"`) {
				t.Errorf("unconfigured mailer should not warn: %s", logBuf.String())
			}
		})
	}
}

func TestSendJobCompleted(t *testing.T) {
	srv := startFakeSMTP(t)
	cfg := config.Mail{Sender: "imcf@example.org", SMTPServer: "127.0.0.1", SMTPPort: srv.port()}

	m := NewMailer(cfg, zerolog.Nop())
	if err := m.SendJobCompleted(context.Background(), testJob()); err != nil {
		t.Fatalf("SendJobCompleted failed: %v", err)
	}

	msgs := srv.messages()
	if len(msgs) != 1 {
		t.Fatalf("messages: got %d, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0], "Subject: Your Segmentation job has finished") {
		t.Errorf("message has no subject:\n%s", msgs[0])
	}
	if !strings.Contains(msgs[0], "plate1.czi") {
		t.Errorf("message does not name the file:\n%s", msgs[0])
	}
}

func TestSendJobCompleted_DeliveryFailureWarns(t *testing.T) {
	// Grab a free port and close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	var logBuf bytes.Buffer
	cfg := config.Mail{Sender: "imcf@example.org", SMTPServer: "127.0.0.1", SMTPPort: port}
	m := NewMailer(cfg, zerolog.New(&logBuf))
	m.timeout = 2 * time.Second

	if err := m.SendJobCompleted(context.Background(), testJob()); err != nil {
		t.Errorf("delivery failure should not be returned, got %v", err)
	}
	if !strings.Contains(logBuf.String(), `"level":"warn"`) {
		t.Errorf("expected a warning, log: %s", logBuf.String())
	}
}

func TestSendJobCompleted_InvalidSender(t *testing.T) {
	cfg := config.Mail{Sender: "not an address", SMTPServer: "127.0.0.1", SMTPPort: 1}
	err := NewMailer(cfg, zerolog.Nop()).SendJobCompleted(context.Background(), testJob())
	if err == nil {
		t.Error("expected an error for an invalid sender")
	}
}
