package main

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/hl7mllp/hl7"
	"github.com/dcrodman/hl7mllp/internal/certs"
	"github.com/dcrodman/hl7mllp/internal/mllp"
	"github.com/dcrodman/hl7mllp/server"
)

func TestApp_Commands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range app().Commands {
		names[c.Name] = true
	}
	for _, want := range []string{"serve", "sniff", "certgen"} {
		if !names[want] {
			t.Errorf("missing command %s", want)
		}
	}
}

func TestCertgen(t *testing.T) {
	dir := t.TempDir()
	if err := app().Run([]string{"hl7mllp", "certgen", "--host", "127.0.0.1", "--out", dir}); err != nil {
		t.Fatalf("certgen failed: %v", err)
	}

	certPEM, err := os.ReadFile(filepath.Join(dir, certs.CertificateFilename))
	if err != nil {
		t.Fatalf("certificate not written: %v", err)
	}
	keyPEM, err := os.ReadFile(filepath.Join(dir, certs.PrivateKeyFilename))
	if err != nil {
		t.Fatalf("key not written: %v", err)
	}

	// The generated files must be accepted as server.tls options.
	if _, err := server.NormalizeServerOptions(map[string]interface{}{
		"tls": map[string]interface{}{"cert": string(certPEM), "key": string(keyPEM)},
	}); err != nil {
		t.Errorf("generated files are not usable: %v", err)
	}
}

func TestAutoAck(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv, err := server.NewServer(server.ServerConfig{BindAddress: "127.0.0.1", Logger: logger})
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}
	defer srv.CloseAll()

	l, err := srv.CreateInbound(server.ListenerConfig{}, autoAck(hl7.CommitAccept, logger))
	if err != nil {
		t.Fatalf("CreateInbound() unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addr, err := l.WaitListening(ctx)
	if err != nil {
		t.Fatalf("listener failed to start: %v", err)
	}

	conn, err := net.Dial(addr.Network(), addr.String())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	msg := "MSH|^~\\&|A|B|C|D|20240101120000||ORU^R01^ORU_R01|CTRL9|P|2.5\rOBX|1|ST|X||1"
	if _, err := conn.Write(mllp.Encode([]byte(msg))); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	decoder := mllp.NewDecoder(0)
	buf := make([]byte, 512)
	var frames [][]byte
	for len(frames) == 0 {
		n, err := conn.Read(buf)
		if n == 0 && err != nil {
			t.Fatalf("failed to read acknowledgement: %v", err)
		}
		if frames, err = decoder.Feed(buf[:n]); err != nil {
			t.Fatalf("invalid frame: %v", err)
		}
	}

	ack, err := hl7.Parse(string(frames[0]))
	if err != nil {
		t.Fatalf("acknowledgement is not valid HL7: %v", err)
	}
	if got := ack.Get("MSA.1"); got != "CA" {
		t.Errorf("MSA.1 want = CA, got = %s", got)
	}
	if got := ack.Get("MSA.2"); got != "CTRL9" {
		t.Errorf("MSA.2 want = CTRL9, got = %s", got)
	}
	if got := ack.Get("MSH.12"); got != "2.5" {
		t.Errorf("MSH.12 want = 2.5, got = %s", got)
	}
	if got := ack.Get("MSH.9"); got != "ACK^R01^ORU_R01" {
		t.Errorf("MSH.9 want = ACK^R01^ORU_R01, got = %s", got)
	}
}
