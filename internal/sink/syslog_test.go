package sink

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgoj/logrelay/internal/record"
)

func TestSyslogSink_UDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	s, err := NewSyslogSink("syslog", SyslogOptions{
		Network: "udp", Address: pc.LocalAddr().String(), Facility: 16, Tag: "relay",
	})
	require.NoError(t, err)
	defer s.Close()

	r := record.New(testTime, record.ERROR, "app.db", "down", record.Attr{Key: "host", Value: "db1"})
	require.NoError(t, s.Write(writeCtx(t), r))

	buf := make([]byte, 1024)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)

	host, _ := os.Hostname()
	expected := fmt.Sprintf("<131>Mar 14 09:26:53 %s relay[%d]: ERROR app.db: down (host=db1)", host, os.Getpid())
	assert.Equal(t, expected, string(buf[:n]))
}

func TestSyslogSink_TCPFraming(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	lines := make(chan string, 2)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	s, err := NewSyslogSink("syslog", SyslogOptions{Network: "tcp", Address: ln.Addr().String(), Facility: 1, Tag: "t"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write(writeCtx(t), recAt(record.DEBUG, "multi\nline")))
	line := <-lines
	assert.Contains(t, line, "<15>Mar 14 09:26:53 ")
	assert.Contains(t, line, "DEBUG app: multi line")
}

func TestSyslogSink_UnsupportedNetwork(t *testing.T) {
	_, err := NewSyslogSink("s", SyslogOptions{Network: "carrier-pigeon"})
	assert.Error(t, err)
}
