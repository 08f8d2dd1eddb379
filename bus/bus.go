// Package bus is the in-process pub/sub fabric every service talks over.
// Topics are token paths with MQTT-style "+" and "#" wildcards; retained
// messages are replayed to new subscribers; queues drop the oldest entry
// when full so publishers never block.
package bus

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"overlaycode-go/errcode"
)

// -----------------------------------------------------------------------------
// Tokens + Topics
// -----------------------------------------------------------------------------

// Token is one element of a topic path. Strings and ints are the norm; any
// comparable value is accepted.
type Token = any

const (
	wildPlus = "+" // exactly one level
	wildHash = "#" // zero or more trailing levels
)

// Topic is a sequence of tokens.
type Topic []Token

// T builds a Topic and panics on a non-comparable token.
func T(parts ...any) Topic {
	for _, p := range parts {
		if p == nil || !reflect.TypeOf(p).Comparable() {
			panic(fmt.Sprintf("bus: token %#v is not comparable", p))
		}
	}
	return Topic(parts)
}

// Append returns a new topic; t is not modified.
func (t Topic) Append(parts ...Token) Topic {
	out := make(Topic, 0, len(t)+len(parts))
	out = append(out, t...)
	return append(out, parts...)
}

func (t Topic) Len() int       { return len(t) }
func (t Topic) At(i int) Token { return t[i] }

func (t Topic) String() string {
	var sb strings.Builder
	for i, tok := range t {
		if i > 0 {
			sb.WriteByte('/')
		}
		fmt.Fprint(&sb, tok)
	}
	return sb.String()
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

// CanReply reports whether the sender is waiting on a reply.
func (m *Message) CanReply() bool { return len(m.ReplyTo) > 0 }

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection
	drops atomic.Uint32
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// Dropped counts messages discarded to make room for newer ones.
func (s *Subscription) Dropped() uint32 { return s.drops.Load() }

// deliver never blocks: on a full queue the oldest message goes.
func (s *Subscription) deliver(m *Message) {
	for {
		select {
		case s.ch <- m:
			return
		default:
		}
		select {
		case <-s.ch:
			s.drops.Add(1)
		default:
		}
	}
}

// -----------------------------------------------------------------------------
// Tries
// -----------------------------------------------------------------------------

// subNode holds subscription patterns, wildcards included.
type subNode struct {
	children map[Token]*subNode
	subs     []*Subscription
}

// retNode holds retained messages by concrete topic.
type retNode struct {
	children map[Token]*retNode
	msg      *Message
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu       sync.RWMutex
	subs     *subNode
	retained *retNode
	qLen     int
	nextID   atomic.Uint64
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{
		subs:     &subNode{},
		retained: &retNode{},
		qLen:     queueLen,
	}
}

// NewMessage is a convenience constructor.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.subs
	for _, tok := range sub.topic {
		if n.children == nil {
			n.children = make(map[Token]*subNode)
		}
		child, ok := n.children[tok]
		if !ok {
			child = &subNode{}
			n.children[tok] = child
		}
		n = child
	}
	n.subs = append(n.subs, sub)

	var ret []*Message
	collectRetained(b.retained, sub.topic, 0, &ret)
	for _, m := range ret {
		sub.deliver(m)
	}
}

func collectRetained(n *retNode, pat Topic, i int, out *[]*Message) {
	if i == len(pat) {
		if n.msg != nil {
			*out = append(*out, n.msg)
		}
		return
	}
	switch pat[i] {
	case wildHash:
		walkRetained(n, out)
	case wildPlus:
		for _, c := range n.children {
			collectRetained(c, pat, i+1, out)
		}
	default:
		if c := n.children[pat[i]]; c != nil {
			collectRetained(c, pat, i+1, out)
		}
	}
}

func walkRetained(n *retNode, out *[]*Message) {
	if n.msg != nil {
		*out = append(*out, n.msg)
	}
	for _, c := range n.children {
		walkRetained(c, out)
	}
}

func matchSubs(n *subNode, topic Topic, i int, out *[]*Subscription) {
	if h := n.children[wildHash]; h != nil {
		*out = append(*out, h.subs...)
	}
	if i == len(topic) {
		*out = append(*out, n.subs...)
		return
	}
	if c := n.children[topic[i]]; c != nil {
		matchSubs(c, topic, i+1, out)
	}
	if c := n.children[wildPlus]; c != nil {
		matchSubs(c, topic, i+1, out)
	}
}

// Publish delivers a message to every matching subscriber. A retained
// message replaces the topic's stored copy; a retained nil payload clears it.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		b.storeRetained(msg)
	}
	var hits []*Subscription
	matchSubs(b.subs, msg.Topic, 0, &hits)
	for _, s := range hits {
		s.deliver(msg)
	}
}

func (b *Bus) storeRetained(msg *Message) {
	n := b.retained
	path := make([]*retNode, 0, len(msg.Topic))
	for _, tok := range msg.Topic {
		child := n.children[tok]
		if child == nil {
			if msg.Payload == nil {
				return
			}
			if n.children == nil {
				n.children = make(map[Token]*retNode)
			}
			child = &retNode{}
			n.children[tok] = child
		}
		path = append(path, n)
		n = child
	}
	if msg.Payload != nil {
		n.msg = msg
		return
	}
	n.msg = nil
	for i := len(msg.Topic) - 1; i >= 0; i-- {
		parent, key := path[i], msg.Topic[i]
		child := parent.children[key]
		if child.msg != nil || len(child.children) > 0 {
			break
		}
		delete(parent.children, key)
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.subs
	stack := make([]*subNode, 0, len(sub.topic))
	for _, t := range sub.topic {
		child, ok := n.children[t]
		if !ok {
			return
		}
		stack = append(stack, n)
		n = child
	}
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	for i := len(sub.topic) - 1; i >= 0; i-- {
		parent, key := stack[i], sub.topic[i]
		child := parent.children[key]
		if len(child.subs) > 0 || len(child.children) > 0 {
			break
		}
		delete(parent.children, key)
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

// Connection owns a set of subscriptions; Disconnect releases them all.
type Connection struct {
	bus  *Bus
	id   string
	mu   sync.Mutex
	subs []*Subscription
}

// NewConnection creates a new connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

// Subscribe registers a subscription owned by this connection. Matching
// retained messages are queued before it returns.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, c.bus.qLen),
		conn:  c,
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	c.bus.addSubscription(sub)
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Calling it
// twice is harmless.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	found := false
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return
	}
	c.bus.unsubscribe(sub)
	close(sub.ch)
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub)
		close(sub.ch)
	}
}

// -----------------------------------------------------------------------------
// Request / reply
// -----------------------------------------------------------------------------

// Request assigns msg a private reply topic, subscribes to it, then
// publishes msg. The caller owns the returned subscription.
func (c *Connection) Request(msg *Message) *Subscription {
	msg.ReplyTo = Topic{"_reply", c.id, c.bus.nextID.Add(1)}
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait is Request plus a wait for the first reply.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)

	select {
	case r, ok := <-sub.Channel():
		if !ok {
			return nil, errcode.New(errcode.Closed, "bus.request", msg.Topic.String())
		}
		return r, nil
	case <-ctx.Done():
		return nil, errcode.Wrap(errcode.Timeout, "bus.request", ctx.Err())
	}
}

// Reply answers req on its ReplyTo topic. It is a no-op when nobody is
// waiting.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if !req.CanReply() {
		return
	}
	c.Publish(&Message{Topic: req.ReplyTo, Payload: payload, Retained: retained})
}
