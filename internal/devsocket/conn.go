package devsocket

import (
	"bufio"
	"net"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

// Conn wraps a device TCP connection with a buffered reader, byte counters
// and a closed flag readable from other goroutines.
type Conn struct {
	cid     uint64
	tuple   []string
	r       *bufio.Reader
	closed  uint32
	created time.Time
	byteIn  uint64
	byteOut uint64
	net.Conn
}

func NewConn(c net.Conn, cid uint64) *Conn {
	sourceip, sourceport, _ := net.SplitHostPort(c.RemoteAddr().String())
	targetip, targetport, _ := net.SplitHostPort(c.LocalAddr().String())
	return &Conn{
		cid:     cid,
		tuple:   []string{sourceip, sourceport, targetip, targetport},
		r:       bufio.NewReader(c),
		created: time.Now(),
		Conn:    c,
	}
}

func (c *Conn) ReadBytes(delim byte) ([]byte, error) {
	d, err := c.r.ReadBytes(delim)
	atomic.AddUint64(&c.byteIn, uint64(len(d)))
	return d, err
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	atomic.AddUint64(&c.byteIn, uint64(n))
	return n, err
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	atomic.AddUint64(&c.byteOut, uint64(n))
	return n, err
}

func (c *Conn) Close() error {
	atomic.StoreUint32(&c.closed, 1)
	return c.Conn.Close()
}

func (c *Conn) Closed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

func (c *Conn) Cid() uint64 {
	return c.cid
}

func (c *Conn) Created() time.Time {
	return c.created
}

func (c *Conn) Stat() (byteIn uint64, byteOut uint64) {
	return atomic.LoadUint64(&c.byteIn), atomic.LoadUint64(&c.byteOut)
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Strs("socket", c.tuple).Uint64("cid", c.cid)
}
