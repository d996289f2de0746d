// SPDX-License-Identifier: AGPL-3.0-or-later
// iaxhub - an in-process telephony message bus and IAX2 transaction core
// Copyright (C) 2023-2026 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package engine owns the IAX2 socket and the set of live transactions: it
// routes inbound datagrams to the right transaction.Transaction by
// call-number pair, drives every transaction's periodic event pump, and
// surfaces the resulting protocol events back onto the message bus.
package engine

import (
	"context"
	"crypto/md5" //nolint:gosec // IAX2's wire format mandates MD5, not a choice of this implementation
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/telcore-oss/iaxhub/internal/config"
	"github.com/telcore-oss/iaxhub/internal/iax/frame"
	"github.com/telcore-oss/iaxhub/internal/iax/iaxconst"
	"github.com/telcore-oss/iaxhub/internal/iax/ie"
	"github.com/telcore-oss/iaxhub/internal/iax/transaction"
	"github.com/telcore-oss/iaxhub/internal/message"
	"github.com/telcore-oss/iaxhub/internal/metrics"
)

var (
	ErrOpenSocket   = errors.New("engine: error opening socket")
	ErrAlreadyStart = errors.New("engine: already started")
)

const (
	readBufferSize  = 4096
	socketChanDepth = 100

	// firstCallNo and lastCallNo bound the 15-bit call-number space this
	// engine allocates to inbound and outbound transactions it originates.
	firstCallNo uint16 = 1
	lastCallNo  uint16 = 32767
)

// Engine implements transaction.Engine and is the single owner of the UDP
// socket and the transaction table for one IAX2 listener.
type Engine struct {
	cfg        *config.Config
	dispatcher *message.Dispatcher
	metrics    *metrics.Metrics

	conn net.PacketConn

	transactions *xsync.Map[uint16, *transaction.Transaction]
	nextCallNo   atomic.Uint32

	scheduler gocron.Scheduler

	startOnce sync.Once
	started   atomic.Bool
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithDispatcher installs the message bus protocol events are published to.
func WithDispatcher(d *message.Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithMetrics installs the Prometheus collector frame/retransmission/timeout
// counters are recorded against.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an Engine. It does not open the socket; call Start for that.
func New(cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:          cfg,
		transactions: xsync.NewMap[uint16, *transaction.Transaction](),
	}
	e.nextCallNo.Store(uint32(firstCallNo))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start opens the UDP socket, launches the read loop under an
// errgroup.Group and schedules the transaction sweep as a gocron job.
// When the read loop exits or ctx is canceled the engine is stopped.
// Start returns once the socket is open.
func (e *Engine) Start(ctx context.Context) error {
	var startErr error
	e.startOnce.Do(func() {
		conn, err := net.ListenPacket("udp", fmt.Sprintf("%s:%d", e.cfg.IAX.Bind, e.cfg.IAX.Port))
		if err != nil {
			slog.Error("error opening IAX2 socket", "error", err)
			startErr = ErrOpenSocket
			return
		}
		e.conn = conn
		e.started.Store(true)

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			startErr = fmt.Errorf("engine: create scheduler: %w", err)
			return
		}
		e.scheduler = scheduler

		slog.Info("IAX2 engine listening", "address", conn.LocalAddr().String())

		group, gctx := errgroup.WithContext(ctx)
		group.Go(func() error { return e.readLoop(gctx) })

		if _, err := scheduler.NewJob(
			gocron.DurationJob(pumpInterval),
			gocron.NewTask(func() { e.sweep(gctx) }),
		); err != nil {
			startErr = fmt.Errorf("engine: schedule sweep: %w", err)
			return
		}
		scheduler.Start()

		go func() {
			<-gctx.Done()
			_ = e.Stop()
		}()
		go func() {
			if err := group.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
				slog.Error("IAX2 engine goroutine exited with error", "error", err)
			}
		}()
	})
	return startErr
}

// pumpInterval is how often the sweep calls GetEvent on every live
// transaction, driving retransmission, timeout and ping accounting.
const pumpInterval = 20 * time.Millisecond

// LocalAddr reports the socket's bound address. It is only valid after a
// successful Start.
func (e *Engine) LocalAddr() net.Addr {
	if e.conn == nil {
		return nil
	}
	return e.conn.LocalAddr()
}

// Stop closes the socket, destroys every live transaction (each emits a
// Reject on its way out) and stops the scheduler.
func (e *Engine) Stop() error {
	if !e.started.CompareAndSwap(true, false) {
		return nil
	}
	if e.scheduler != nil {
		_ = e.scheduler.Shutdown()
	}
	e.transactions.Range(func(callNo uint16, tx *transaction.Transaction) bool {
		tx.Destroy()
		e.drainOutbound(tx)
		return true
	})
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

// drainOutbound flushes a transaction's final pending frame (its Reject)
// by pulling whatever GetEvent produces for it once after Destroy.
func (e *Engine) drainOutbound(tx *transaction.Transaction) {
	_ = tx.GetEvent()
}

func (e *Engine) readLoop(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("error reading from IAX2 socket, swallowing error", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		e.handleDatagram(ctx, data, addr)
	}
}

func (e *Engine) handleDatagram(ctx context.Context, data []byte, addr net.Addr) {
	_, span := otel.Tracer("iaxhub").Start(ctx, "Engine.handleFrame")
	defer span.End()

	if frame.IsFullFrame(data) {
		e.handleFull(data, addr)
		return
	}
	e.handleMini(data)
}

func (e *Engine) handleFull(data []byte, addr net.Addr) {
	f, err := frame.DecodeFull(data)
	if err != nil {
		slog.Debug("dropping malformed full frame", "error", err)
		return
	}
	e.recordReceived(f.Type)

	if f.DstCallNo == 0 {
		e.admitInbound(addr, f)
		return
	}
	tx, ok := e.transactions.Load(f.DstCallNo)
	if !ok {
		slog.Debug("full frame for unknown local call number", "localCallNo", f.DstCallNo)
		return
	}
	tx.ProcessFrame(f)
	e.drainEvents(tx)
}

func (e *Engine) handleMini(data []byte) {
	m, err := frame.DecodeMini(data)
	if err != nil {
		slog.Debug("dropping malformed mini frame", "error", err)
		return
	}
	tx, ok := e.transactions.Load(m.CallNo)
	if !ok {
		slog.Debug("mini frame for unknown local call number", "localCallNo", m.CallNo)
		return
	}
	tx.ProcessMiniFrame(m)
}

// admitInbound allocates a local call number for a peer's first frame and
// constructs the inbound transaction, rejecting transaction types this
// engine does not originate for peers (FwDownl, anything unrecognized).
// A Poke resolves inside the transaction (Pong, then teardown) and is
// never surfaced on the bus.
func (e *Engine) admitInbound(addr net.Addr, first *frame.IAXFullFrame) {
	localCallNo := e.allocCallNo()
	tx := transaction.NewInbound(e, addr, localCallNo, first)
	if tx == nil {
		slog.Debug("rejecting unsupported inbound transaction type", "subclass", first.Subclass)
		return
	}
	e.tune(tx)
	e.transactions.Store(localCallNo, tx)
	if tx.Type() != transaction.TypePoke {
		e.publish("iax.new", tx, nil)
	}
	e.drainEvents(tx)
}

// tune applies per-transaction limits from configuration.
func (e *Engine) tune(tx *transaction.Transaction) {
	tx.SetMaxInFrames(e.cfg.IAX.MaxInFrames)
	tx.SetPingInterval(e.cfg.IAX.PingInterval)
}

// allocCallNo hands out the next call number in the 15-bit space, wrapping
// and skipping any value still live in the table.
func (e *Engine) allocCallNo() uint16 {
	for {
		n := uint16(e.nextCallNo.Add(1))
		if n < firstCallNo || n > lastCallNo {
			e.nextCallNo.Store(uint32(firstCallNo))
			n = firstCallNo
		}
		if _, exists := e.transactions.Load(n); !exists {
			return n
		}
	}
}

// Call initiates an outbound transaction of typ to addr carrying ies,
// allocating a fresh local call number. A New request is stamped with
// this engine's preferred format and capability mask if the caller did
// not already set them, so the peer's negotiateFormatLocked has
// something to intersect against.
func (e *Engine) Call(addr net.Addr, typ transaction.Type, ies *ie.List) *transaction.Transaction {
	if typ == transaction.TypeNew {
		if _, ok := ies.GetUint32(iaxconst.IEFormat); !ok {
			ies.AddUint32(iaxconst.IEFormat, uint32(e.Format()))
		}
		if _, ok := ies.GetUint32(iaxconst.IECapability); !ok {
			ies.AddUint32(iaxconst.IECapability, uint32(e.Capability()))
		}
	}
	localCallNo := e.allocCallNo()
	tx := transaction.NewOutbound(e, addr, localCallNo, 0, typ, ies)
	if tx == nil {
		return nil
	}
	e.tune(tx)
	e.transactions.Store(localCallNo, tx)
	return tx
}

// sweep drives the periodic event pump across every live transaction,
// publishing resulting events to the message bus and reaping terminated
// transactions from the table.
func (e *Engine) sweep(ctx context.Context) {
	_, span := otel.Tracer("iaxhub").Start(ctx, "Engine.sweep")
	defer span.End()

	e.transactions.Range(func(callNo uint16, tx *transaction.Transaction) bool {
		e.drainEvents(tx)
		if tx.State() == transaction.StateTerminated {
			if e.metrics != nil {
				e.metrics.RecordOutOfOrderFrames(tx.InOutOfOrder())
			}
			e.transactions.Delete(callNo)
		}
		return true
	})
}

// drainEvents pulls every event GetEvent currently has queued for tx and
// publishes each as a Message, recording metrics along the way.
func (e *Engine) drainEvents(tx *transaction.Transaction) {
	for {
		ev := tx.GetEvent()
		if ev == nil {
			return
		}
		e.recordEvent(ev)
		e.publish(eventMessageName(ev.Type), tx, ev)
	}
}

func (e *Engine) recordEvent(ev *transaction.Event) {
	if e.metrics == nil {
		return
	}
	switch ev.Type {
	case transaction.EventTimeout:
		e.metrics.RecordTransactionTimeout()
	default:
	}
}

func (e *Engine) recordReceived(t iaxconst.FrameType) {
	if e.metrics != nil {
		e.metrics.RecordFrameReceived(t.String())
	}
}

func (e *Engine) recordSent(t iaxconst.FrameType) {
	if e.metrics != nil {
		e.metrics.RecordFrameSent(t.String())
	}
}

func eventMessageName(t transaction.EventType) string {
	switch t {
	case transaction.EventNew:
		return "iax.new"
	case transaction.EventAccept:
		return "iax.accept"
	case transaction.EventReject:
		return "iax.reject"
	case transaction.EventHangup:
		return "iax.hangup"
	case transaction.EventAuthReq:
		return "iax.authreq"
	case transaction.EventAuthRep:
		return "iax.authrep"
	case transaction.EventBusy:
		return "iax.busy"
	case transaction.EventAnswer:
		return "iax.answer"
	case transaction.EventRinging:
		return "iax.ringing"
	case transaction.EventProgressing:
		return "iax.progressing"
	case transaction.EventTimeout:
		return "iax.timeout"
	case transaction.EventInvalid:
		return "iax.invalid"
	case transaction.EventNotImplemented:
		return "iax.notimplemented"
	case transaction.EventVoice:
		return "iax.voice"
	case transaction.EventDtmf:
		return "iax.dtmf"
	case transaction.EventText:
		return "iax.text"
	case transaction.EventNoise:
		return "iax.noise"
	case transaction.EventTerminated:
		return "iax.terminated"
	case transaction.EventQuelch:
		return "iax.quelch"
	case transaction.EventUnquelch:
		return "iax.unquelch"
	default:
		return "iax.unknown"
	}
}

// EventData is the UserData a protocol-occurrence Message carries: the
// transaction the occurrence belongs to, so a handler can act on it (call
// SendAuth, SendAccept, SendHangup, ...), alongside the triggering event.
// Ev is nil for "iax.new", which has no event payload of its own.
type EventData struct {
	Tx *transaction.Transaction
	Ev *transaction.Event
}

// publish hands a protocol occurrence to the message bus as a broadcast
// Message, so every interested module sees it regardless of whether an
// earlier handler already acted on it. It is a no-op if no dispatcher was
// installed (e.g. in unit tests exercising the engine in isolation).
func (e *Engine) publish(name string, tx *transaction.Transaction, ev *transaction.Event) {
	if e.dispatcher == nil {
		return
	}
	msg := message.New(name)
	msg.Broadcast = true
	msg.UserData = EventData{Tx: tx, Ev: ev}
	msg.SetParam("localCallNo", fmt.Sprintf("%d", tx.LocalCallNo()))
	msg.SetParam("remoteCallNo", fmt.Sprintf("%d", tx.RemoteCallNo()))
	e.dispatcher.Dispatch(context.Background(), msg)
}

// --- transaction.Engine interface ---

// WriteSocket writes b to addr over the engine's socket, reporting whether
// the send succeeded.
func (e *Engine) WriteSocket(b []byte, addr net.Addr) bool {
	if e.conn == nil {
		return false
	}
	_, err := e.conn.WriteTo(b, addr)
	if err != nil {
		slog.Debug("error writing to IAX2 socket", "error", err)
		return false
	}
	if frame.IsFullFrame(b) && len(b) >= frame.FullHeaderLen {
		e.recordSent(iaxconst.FrameType(b[10]))
		if b[2]&0x80 != 0 && e.metrics != nil {
			e.metrics.RecordRetransmission()
		}
	}
	return true
}

// ProcessMedia publishes a decoded voice/video payload onto the message
// bus for whichever module consumes media for tx.
func (e *Engine) ProcessMedia(tx *transaction.Transaction, data []byte, timestamp uint32) {
	if e.dispatcher == nil {
		return
	}
	msg := message.New("iax.media")
	msg.Broadcast = true
	msg.UserData = data
	msg.SetParam("localCallNo", fmt.Sprintf("%d", tx.LocalCallNo()))
	msg.SetParam("timestamp", fmt.Sprintf("%d", timestamp))
	e.dispatcher.Dispatch(context.Background(), msg)
}

// RetransCount reports the configured maximum number of retransmissions.
func (e *Engine) RetransCount() int { return e.cfg.IAX.RetransCount }

// RetransInterval reports the configured interval between retransmissions.
func (e *Engine) RetransInterval() time.Duration { return e.cfg.IAX.RetransInterval }

// TransactionTimeout reports the configured maximum unacknowledged
// transaction lifetime.
func (e *Engine) TransactionTimeout() time.Duration { return e.cfg.IAX.TransactionTimeout }

// MaxFullFrameDataLen reports the largest payload a full frame may carry.
func (e *Engine) MaxFullFrameDataLen() int { return maxFullFrameDataLen }

const maxFullFrameDataLen = 1400

// Format reports the configured default media format offered in New requests.
func (e *Engine) Format() iaxconst.Codec { return e.cfg.IAX.DefaultFormat }

// Capability reports the configured default capability mask.
func (e *Engine) Capability() iaxconst.Codec { return e.cfg.IAX.DefaultCapability }

// GetMD5FromChallenge computes the hex MD5 digest of challenge||password,
// the reply IAX2's AuthRep mandates for AUTH_MD5.
func (e *Engine) GetMD5FromChallenge(challenge, password string) string {
	sum := md5.Sum([]byte(challenge + password)) //nolint:gosec // protocol-mandated digest, not a security boundary
	return hex.EncodeToString(sum[:])
}

// IsMD5ChallengeCorrect reports whether auth is the expected MD5 digest of
// challenge||password.
func (e *Engine) IsMD5ChallengeCorrect(auth, challenge, password string) bool {
	return auth == e.GetMD5FromChallenge(challenge, password)
}
