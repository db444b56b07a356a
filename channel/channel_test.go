package channel

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/m-lab/go/rtx"
)

func TestSendAndReceive(t *testing.T) {
	srv, err := Listen(0)
	rtx.Must(err, "Could not bind server channel")
	defer srv.Close()
	port := srv.LocalAddr().(*net.UDPAddr).Port

	cli, err := Dial("127.0.0.1", port)
	rtx.Must(err, "Could not connect client channel")
	defer cli.Close()

	msg := []byte("one datagram")
	rtx.Must(cli.Send(msg), "Could not send")

	got, addr, err := srv.Receive(time.Second)
	rtx.Must(err, "Could not receive")
	if !bytes.Equal(got, msg) {
		t.Errorf("received %q, want %q", got, msg)
	}

	// Echo it back the way the reflector does.
	rtx.Must(srv.SendTo(got, addr), "Could not echo")
	back, _, err := cli.Receive(time.Second)
	rtx.Must(err, "Could not receive echo")
	if !bytes.Equal(back, msg) {
		t.Errorf("echo was %q, want %q", back, msg)
	}
}

func TestReceiveTimeout(t *testing.T) {
	ch, err := Listen(0)
	rtx.Must(err, "Could not bind")
	defer ch.Close()

	start := time.Now()
	_, _, err = ch.Receive(50 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Receive on an idle channel = %v, want ErrTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Receive took far longer than its timeout")
	}
}

func TestDialResolutionFailure(t *testing.T) {
	_, err := Dial("no-such-host.invalid", 1)
	if err == nil {
		t.Error("Dial of an unresolvable host should fail")
	}
}

func TestReceiveAfterClose(t *testing.T) {
	ch, err := Listen(0)
	rtx.Must(err, "Could not bind")
	rtx.Must(ch.Close(), "Could not close")
	if _, _, err := ch.Receive(50 * time.Millisecond); err == nil {
		t.Error("Receive on a closed channel should fail")
	}
}
