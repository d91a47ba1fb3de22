package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/require"
)

// fakeConn is a minimal net.Conn-shaped io.ReadWriteCloser backing a fake
// attached container stream: writes to it are captured, and bytes written
// to stdoutPW are readable back through Read.
type fakeConn struct {
	writes   bytes.Buffer
	stdoutPR *io.PipeReader
	stdoutPW *io.PipeWriter
}

func newFakeConn() *fakeConn {
	pr, pw := io.Pipe()
	return &fakeConn{stdoutPR: pr, stdoutPW: pw}
}

func (f *fakeConn) Read(p []byte) (int, error)  { return f.stdoutPR.Read(p) }
func (f *fakeConn) Write(p []byte) (int, error) { return f.writes.Write(p) }
func (f *fakeConn) Close() error {
	_ = f.stdoutPW.Close()
	return nil
}

func (f *fakeConn) LocalAddr() net.Addr                { return nil }
func (f *fakeConn) RemoteAddr() net.Addr               { return nil }
func (f *fakeConn) SetDeadline(_ time.Time) error      { return nil }
func (f *fakeConn) SetReadDeadline(_ time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(_ time.Time) error { return nil }

var _ net.Conn = (*fakeConn)(nil)

// fakeAttacher hands back a HijackedResponse wrapping a fakeConn, so the
// Stdio transport's writes land in the fakeConn's capture buffer.
type fakeAttacher struct {
	conn *fakeConn
}

func (a *fakeAttacher) ContainerAttach(_ context.Context, _ string, _ container.AttachOptions) (dockertypes.HijackedResponse, error) {
	// An empty Reader means stdcopy's demux goroutine hits EOF immediately;
	// these tests only exercise the write path.
	return dockertypes.HijackedResponse{
		Conn:   a.conn,
		Reader: bufio.NewReader(bytes.NewReader(nil)),
	}, nil
}

func TestStdio_WriteAppendsNewline(t *testing.T) {
	conn := newFakeConn()
	attacher := &fakeAttacher{conn: conn}
	s := NewStdio("srv1", "container1", attacher, nil)

	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	require.NoError(t, s.Notify(context.Background(), "notifications/initialized", nil))

	time.Sleep(10 * time.Millisecond)
	require.Contains(t, conn.writes.String(), `"method":"notifications/initialized"`)
	require.True(t, bytes.HasSuffix(conn.writes.Bytes(), []byte("\n")))
}

func TestStdio_RequestBeforeConnectFails(t *testing.T) {
	conn := newFakeConn()
	attacher := &fakeAttacher{conn: conn}
	s := NewStdio("srv1", "container1", attacher, nil)

	_, err := s.Request(context.Background(), "tools/list", nil)
	require.Error(t, err)
}

func TestStdio_DisconnectIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	attacher := &fakeAttacher{conn: conn}
	s := NewStdio("srv1", "container1", attacher, nil)

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
}
