package sntp

import (
	"errors"
	"log/slog"
	"time"

	"github.com/soypat/rtntp"
	"github.com/soypat/rtntp/internal"
	"github.com/soypat/rtntp/ntp"
)

const (
	DefaultServer           = "time.nist.gov"
	DefaultLocalPort        = ntp.ClientPort
	DefaultUpdateIntervalMs = 300_000
	DefaultRequestTimeoutMs = 1000
)

var (
	errNilTransport = errors.New("sntp: nil transport")
	errConfigured   = errors.New("sntp: client already configured, Close it first")
)

// Outcome is the result of a call to [Client.Poll] or [Client.Update].
type Outcome uint8

const (
	NoChange Outcome = iota // no change
	Synced                  // synced
)

func (o Outcome) String() string {
	switch o {
	case NoChange:
		return "no change"
	case Synced:
		return "synced"
	}
	return "invalid"
}

// State is the request state of a [Client].
type State uint8

const (
	// StateIdle means no request is outstanding. The last snapshot, if any, is in use.
	StateIdle State = iota
	// StateAwaitingReply means a request was sent and reply bytes are being accumulated.
	StateAwaitingReply
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReply:
		return "awaiting reply"
	}
	return "invalid"
}

// Config configures a [Client]. Zero values are replaced by defaults.
type Config struct {
	// Server is the NTP server hostname or address. Defaults to [DefaultServer].
	Server string
	// ServerPort defaults to [ntp.ServerPort].
	ServerPort uint16
	// LocalPort is the port bound on the transport. Defaults to [DefaultLocalPort].
	LocalPort uint16
	// OffsetSeconds is added to the epoch time, usually a time zone offset.
	OffsetSeconds int32
	// UpdateIntervalMs is the minimum interval between syncs issued by [Client.Update].
	// Defaults to [DefaultUpdateIntervalMs].
	UpdateIntervalMs uint32
	// RequestTimeoutMs is how long a request may go unanswered before it is re-sent.
	// Defaults to [DefaultRequestTimeoutMs].
	RequestTimeoutMs uint32
	// ValidateReply drops complete replies that are not plausible server replies.
	// See [ntp.Frame.ValidateReply]. When false any 48 byte datagram is trusted.
	ValidateReply bool
	// Logger receives diagnostic records. May be nil.
	Logger *slog.Logger
}

// Client synchronizes wall-clock time with an NTP server without ever blocking.
// It must be driven by calling [Client.Update] or [Client.Poll] from the host loop
// with a monotonic millisecond reading. All timing is computed with wrapping uint32
// subtraction, so one wrap of the millisecond counter between readings is handled.
// Time since the last sync that exceeds 2**32 milliseconds is not.
//
// A Client is not safe for concurrent use.
type Client struct {
	tr         Transport
	server     string
	serverPort uint16
	localPort  uint16

	offset   int32
	interval uint32
	timeout  uint32

	lastSync    uint32
	lastRequest uint32
	epochAtSync uint32
	received    uint8
	pending     bool
	synced      bool
	validate    bool

	vld rtntp.Validator
	buf [ntp.SizeHeader]byte
	logger
}

// New returns a Client bound on tr. If binding fails tr is closed and the error returned.
func New(tr Transport, cfg Config) (*Client, error) {
	c := new(Client)
	err := c.Configure(tr, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Configure binds tr and resets all sync state. It allows a Client to be used
// without heap allocation. If binding fails tr is closed and the error returned.
func (c *Client) Configure(tr Transport, cfg Config) error {
	if tr == nil {
		return errNilTransport
	} else if c.tr != nil {
		return errConfigured
	}
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = ntp.ServerPort
	}
	if cfg.LocalPort == 0 {
		cfg.LocalPort = DefaultLocalPort
	}
	if cfg.UpdateIntervalMs == 0 {
		cfg.UpdateIntervalMs = DefaultUpdateIntervalMs
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = DefaultRequestTimeoutMs
	}
	*c = Client{
		server:     cfg.Server,
		serverPort: cfg.ServerPort,
		localPort:  cfg.LocalPort,
		offset:     cfg.OffsetSeconds,
		interval:   cfg.UpdateIntervalMs,
		timeout:    cfg.RequestTimeoutMs,
		validate:   cfg.ValidateReply,
		vld:        c.vld,
		logger:     logger{log: cfg.Logger},
	}
	err := tr.Bind(cfg.LocalPort)
	if err != nil {
		cerr := tr.Close()
		c.error("sntp:bind", slog.Uint64("lport", uint64(cfg.LocalPort)), slog.String("err", err.Error()))
		return errors.Join(err, cerr)
	}
	c.tr = tr
	c.debug("sntp:configured", slog.String("server", c.server), slog.Uint64("lport", uint64(c.localPort)))
	return nil
}

// Close releases the transport. Derived time accessors keep working from the last snapshot.
func (c *Client) Close() error {
	if c.tr == nil {
		return nil
	}
	err := c.tr.Close()
	c.tr = nil
	c.pending = false
	c.received = 0
	c.debug("sntp:closed")
	return err
}

// Update calls [Client.Poll] when there is no snapshot yet, a request is outstanding
// or the update interval has elapsed since the last sync. Otherwise it does nothing.
func (c *Client) Update(nowMs uint32) Outcome {
	if c.pending || !c.synced || nowMs-c.lastSync >= c.interval {
		return c.Poll(nowMs)
	}
	return NoChange
}

// ForceUpdate is an alias of [Client.Poll].
func (c *Client) ForceUpdate(nowMs uint32) Outcome { return c.Poll(nowMs) }

// Poll performs one non-blocking step of the sync exchange: it abandons a request that
// has been unanswered for longer than the request timeout, sends a request if none is
// outstanding and consumes an available reply datagram. Replies may arrive fragmented
// across several datagrams; Synced is returned on the call that completes 48 bytes.
func (c *Client) Poll(nowMs uint32) Outcome {
	if c.tr == nil {
		return NoChange
	}
	if c.pending && nowMs-c.lastRequest > c.timeout {
		c.debug("sntp:request-timeout", slog.Uint64("elapsed", uint64(nowMs-c.lastRequest)), slog.Int("recvd", int(c.received)))
		c.pending = false
	}
	if !c.pending {
		c.sendRequest(nowMs)
	}

	plen := c.tr.Available()
	if plen == 0 {
		return NoChange
	}
	n, err := c.tr.Read(c.buf[c.received:])
	if err != nil {
		c.warn("sntp:read", slog.String("err", err.Error()))
		return NoChange
	}
	if internal.LogEnabled(c.log, internal.LevelTrace) {
		c.trace("sntp:recv", slog.Int("plen", plen), slog.Int("n", n), slog.Int("recvd", int(c.received)+n))
	}
	c.received += uint8(n)
	if c.received < ntp.SizeHeader {
		return NoChange
	}
	if c.validate {
		frm, _ := ntp.NewFrame(c.buf[:])
		frm.ValidateReply(&c.vld)
		if err := c.vld.ErrPop(); err != nil {
			c.warn("sntp:bad-reply", slog.String("err", err.Error()))
			c.clearReply()
			return NoChange
		}
	}
	c.epochAtSync = ntp.DecodeReplyEpochSeconds(&c.buf)
	c.lastSync = nowMs
	c.synced = true
	c.pending = false
	c.clearReply()
	c.info("sntp:synced", slog.Uint64("epoch", uint64(c.epochAtSync)), slog.Uint64("rtt", uint64(nowMs-c.lastRequest)))
	return Synced
}

func (c *Client) sendRequest(nowMs uint32) {
	// A failed send still leaves the request outstanding so the timeout paces retries.
	c.pending = true
	c.lastRequest = nowMs
	n, _ := ntp.PutRequest(c.buf[:])
	err := c.tr.BeginSend(c.server, c.serverPort)
	if err == nil {
		_, err = c.tr.Write(c.buf[:n])
		if err == nil {
			err = c.tr.EndSend()
		}
	}
	c.clearReply()
	if err != nil {
		c.warn("sntp:send", slog.String("server", c.server), slog.String("err", err.Error()))
		return
	}
	c.debug("sntp:sent", slog.String("server", c.server), slog.Uint64("now", uint64(nowMs)))
}

func (c *Client) clearReply() {
	c.received = 0
	c.buf = [ntp.SizeHeader]byte{}
}

// State returns the request state of the client.
func (c *Client) State() State {
	if c.pending {
		return StateAwaitingReply
	}
	return StateIdle
}

// IsSynced reports whether at least one reply has been received.
func (c *Client) IsSynced() bool { return c.synced }

// LastSync returns the monotonic millisecond reading of the last successful sync.
func (c *Client) LastSync() uint32 { return c.lastSync }

// SetOffsetSeconds sets the offset added to the epoch time. It takes effect immediately.
func (c *Client) SetOffsetSeconds(offset int32) { c.offset = offset }

// OffsetSeconds returns the offset added to the epoch time.
func (c *Client) OffsetSeconds() int32 { return c.offset }

// SetUpdateIntervalMs sets the interval between syncs issued by [Client.Update].
func (c *Client) SetUpdateIntervalMs(interval uint32) { c.interval = interval }

// UpdateIntervalMs returns the interval between syncs issued by [Client.Update].
func (c *Client) UpdateIntervalMs() uint32 { return c.interval }

// EpochTime returns the seconds since the Unix epoch at the monotonic reading nowMs,
// computed from the last snapshot plus the configured offset. Before the first sync
// the snapshot is the Unix epoch itself.
func (c *Client) EpochTime(nowMs uint32) Epoch {
	elapsed := (nowMs - c.lastSync) / 1000
	return Epoch(int64(c.offset) + int64(c.epochAtSync) + int64(elapsed))
}

// Day returns the day of the week at nowMs.
func (c *Client) Day(nowMs uint32) time.Weekday { return c.EpochTime(nowMs).Weekday() }

// Hours returns the hour of the day at nowMs.
func (c *Client) Hours(nowMs uint32) int { return c.EpochTime(nowMs).Hour() }

// Minutes returns the minute of the hour at nowMs.
func (c *Client) Minutes(nowMs uint32) int { return c.EpochTime(nowMs).Minute() }

// Seconds returns the second of the minute at nowMs.
func (c *Client) Seconds(nowMs uint32) int { return c.EpochTime(nowMs).Second() }

// FormattedTime returns the time of day at nowMs formatted as hh:mm:ss.
func (c *Client) FormattedTime(nowMs uint32) string { return c.EpochTime(nowMs).String() }

type logger struct {
	log *slog.Logger
}

func (l logger) error(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelError, msg, attrs...)
}
func (l logger) info(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelInfo, msg, attrs...)
}
func (l logger) warn(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelWarn, msg, attrs...)
}
func (l logger) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelDebug, msg, attrs...)
}
func (l logger) trace(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, internal.LevelTrace, msg, attrs...)
}
