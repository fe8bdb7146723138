// Package gateway serves backtest events to websocket clients.
//
// Every event is wrapped in an envelope
//
//	{"channel":"fill:NIFTY","type":"fill","data":{...},"ts":"...","seq":7,"channel_seq":2}
//
// where seq is hub-wide and channel_seq counts per channel. Clients may
// pass ?since=<seq> to replay recent envelopes after a reconnect, and
// ?channels=bar,fill to receive only some event types.
package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"kdjtrader/internal/indicator"
	"kdjtrader/internal/model"
	"kdjtrader/internal/strategy"
)

// Event types, also the channel prefix ("<type>:<symbol>").
const (
	TypeBar    = "bar"
	TypeSignal = "signal"
	TypeFill   = "fill"
	TypeCancel = "cancel"
)

const (
	defaultReplaySize = 500
	clientSendBuffer  = 256
)

// BarSnapshot is the payload of a bar event.
type BarSnapshot struct {
	Bar    model.Bar         `json:"bar"`
	Values []indicator.Value `json:"values"`
	Equity float64           `json:"equity"`
}

type latestEntry struct {
	Data []byte // envelope
	Seq  int64
}

// Hub tracks websocket clients and fans events out to them.
// It has the method set of a backtest observer.
type Hub struct {
	upgrader websocket.Upgrader
	now      func() time.Time

	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	seq         int64
	channelSeqs map[string]int64
	replay      *ReplayBuffer
	dropped     int64
}

// NewHub creates a hub keeping the last replaySize envelopes for late
// joiners. A non-positive replaySize uses 500.
func NewHub(replaySize int) *Hub {
	if replaySize <= 0 {
		replaySize = defaultReplaySize
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now:         time.Now,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replay:      NewReplayBuffer(replaySize),
	}
}

func (h *Hub) OnBar(bar model.Bar, values []indicator.Value, equity float64) {
	h.publish(TypeBar, bar.Symbol, BarSnapshot{Bar: bar, Values: values, Equity: equity})
}

func (h *Hub) OnSignal(sig strategy.Signal) { h.publish(TypeSignal, sig.Symbol, sig) }

func (h *Hub) OnFill(_ *model.Order, fill model.Fill) { h.publish(TypeFill, fill.Symbol, fill) }

func (h *Hub) OnCancel(order *model.Order) { h.publish(TypeCancel, order.Symbol, order) }

func (h *Hub) publish(typ, symbol string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[gateway] marshal %s event: %v", typ, err)
		return
	}
	h.Broadcast(typ, symbol, data)
}

// Broadcast sends a pre-encoded payload on channel "<typ>:<symbol>".
func (h *Hub) Broadcast(typ, symbol string, data []byte) {
	channel := typ + ":" + symbol

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	h.channelSeqs[channel]++
	env := buildEnvelope(channel, typ, data, h.now().UTC(), h.seq, h.channelSeqs[channel])

	h.latest[channel] = latestEntry{Data: env, Seq: h.seq}
	h.replay.Push(h.seq, env)

	for c := range h.clients {
		if !c.wants(typ) {
			continue
		}
		select {
		case c.send <- env:
		default:
			h.dropped++
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade: %v", err)
		return
	}

	q := r.URL.Query()
	since := int64(-1)
	if s := q.Get("since"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil && v >= 0 {
			since = v
		}
	}
	h.register(newClient(conn, h, parseTypes(q.Get("channels"))), since)
}

// register adds the client and queues its initial state: the envelopes
// after since when since >= 0, else the latest envelope per channel.
// Both happen under the hub lock so no broadcast is missed or duplicated.
func (h *Hub) register(c *Client, since int64) {
	h.mu.Lock()
	var initial [][]byte
	if since >= 0 {
		for _, e := range h.replay.After(since) {
			initial = append(initial, e.Data)
		}
	} else {
		for _, e := range h.latestInOrder() {
			initial = append(initial, e.Data)
		}
	}
	c.send = make(chan []byte, clientSendBuffer+len(initial))
	for _, env := range initial {
		if typ := envelopeType(env); c.wants(typ) {
			c.send <- env
		}
	}
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) latestInOrder() []latestEntry {
	out := lo.Values(h.latest)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// RemoveClient unregisters a client and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the last hub-wide sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// ChannelSeq returns the current sequence number of a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// Dropped returns how many envelopes were skipped for slow clients.
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// parseTypes turns "bar,fill" into a set. Empty means everything.
func parseTypes(s string) map[string]bool {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, t := range strings.Split(s, ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out[t] = true
		}
	}
	return out
}
