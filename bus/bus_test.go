// bus/bus_test.go
package bus

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) *Message {
	t.Helper()
	select {
	case m, ok := <-sub.Channel():
		if !ok {
			t.Fatalf("%s: channel closed", sub.Topic())
		}
		return m
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("%s: no message", sub.Topic())
	}
	return nil
}

func expectEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case m := <-sub.Channel():
		t.Fatalf("%s: unexpected message on %s", sub.Topic(), m.Topic)
	default:
	}
}

// topicsOf drains n messages and returns their topics sorted.
func topicsOf(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var got []string
	for i := 0; i < n; i++ {
		got = append(got, recv(t, sub).Topic.String())
	}
	sort.Strings(got)
	return got
}

func TestT(t *testing.T) {
	if got := T("clocks", "freq", "main_clk").String(); got != "clocks/freq/main_clk" {
		t.Fatalf("String() = %q", got)
	}
	if got := T("_reply", "cli", 7).String(); got != "_reply/cli/7" {
		t.Fatalf("String() = %q", got)
	}

	for _, bad := range []any{1.5, true, uint32(1), nil} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("T(%#v) did not panic", bad)
				}
			}()
			T("clocks", bad)
		}()
	}
}

func TestFrequencyPatternMatchesOneLevel(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("monitor")
	freq := c.Subscribe(T("clocks", "freq", SingleLevel))

	c.Publish(b.NewMessage(T("clocks", "freq", "main_clk"), uint32(48_000), false))
	c.Publish(b.NewMessage(T("clocks", "state"), "ready", false))
	c.Publish(b.NewMessage(T("clocks", "freq", "usb", "extra"), uint32(1), false))

	if m := recv(t, freq); m.Payload != uint32(48_000) {
		t.Fatalf("payload = %v", m.Payload)
	}
	expectEmpty(t, freq)
}

func TestRetainedReplayedToLateSubscribers(t *testing.T) {
	b := NewBus(8)
	svc := b.NewConnection("clocks")
	for _, node := range []string{"main_clk", "sys_pll", "usart"} {
		svc.Publish(b.NewMessage(T("clocks", "freq", node), uint32(1), true))
	}
	svc.Publish(b.NewMessage(T("clocks", "state"), "ready", true))
	svc.Publish(b.NewMessage(T("config", "clocks"), "irc48", false))

	c := b.NewConnection("cli")
	freq := c.Subscribe(T("clocks", "freq", SingleLevel))
	want := []string{"clocks/freq/main_clk", "clocks/freq/sys_pll", "clocks/freq/usart"}
	got := topicsOf(t, freq, 3)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("replayed %v, want %v", got, want)
		}
	}
	expectEmpty(t, freq)

	all := c.Subscribe(T(MultiLevel))
	if got := topicsOf(t, all, 4); len(got) != 4 || got[3] != "clocks/state" {
		t.Fatalf("replayed %v", got)
	}
	expectEmpty(t, all)
}

func TestNilRetainedPayloadClearsTopic(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("clocks")
	topic := T("clocks", "freq", "usb")

	c.Publish(b.NewMessage(topic, uint32(48_000), true))
	live := c.Subscribe(topic)
	recv(t, live)

	// Subscribers still see the clearing message itself.
	c.Publish(b.NewMessage(topic, nil, true))
	if m := recv(t, live); m.Payload != nil {
		t.Fatalf("payload = %v", m.Payload)
	}

	late := c.Subscribe(T("clocks", "freq", SingleLevel))
	expectEmpty(t, late)

	// Clearing a topic that never held anything is a no-op.
	c.Publish(b.NewMessage(T("clocks", "freq", "ssp0"), nil, true))
}

func TestClearAndUnsubscribePruneTrie(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("clocks")
	c.Publish(b.NewMessage(T("usart", "divisor"), "dl", true))
	sub := c.Subscribe(T("clocks", "control", SingleLevel))

	c.Publish(b.NewMessage(T("usart", "divisor"), nil, true))
	if _, ok := b.root.children["usart"]; ok {
		t.Fatal("cleared retained topic left its nodes behind")
	}

	sub.Unsubscribe()
	if len(b.root.children) != 0 {
		t.Fatalf("root still has %d children", len(b.root.children))
	}
	if _, ok := <-sub.Channel(); ok {
		t.Fatal("channel open after Unsubscribe")
	}
	sub.Unsubscribe() // second call is a no-op
}

func TestFullQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("slow")
	sub := c.Subscribe(T("clocks", "state"))

	for _, s := range []string{"idle", "applying", "ready"} {
		c.Publish(b.NewMessage(T("clocks", "state"), s, false))
	}
	if got := recv(t, sub).Payload; got != "applying" {
		t.Fatalf("first = %v, want applying", got)
	}
	if got := recv(t, sub).Payload; got != "ready" {
		t.Fatalf("second = %v, want ready", got)
	}
	expectEmpty(t, sub)
}

// serveControl answers every clocks/control/<method> request with the method
// name until ctx ends.
func serveControl(ctx context.Context, c *Connection) {
	sub := c.Subscribe(T("clocks", "control", SingleLevel))
	go func() {
		defer c.Unsubscribe(sub)
		for {
			select {
			case m := <-sub.Channel():
				c.Reply(m, m.Topic[2], false)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func TestControlRequestWait(t *testing.T) {
	b := NewBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveControl(ctx, b.NewConnection("clocks"))

	cli := b.NewConnection("cli")
	for _, method := range []string{"get", "snapshot"} {
		wctx, wcancel := context.WithTimeout(ctx, time.Second)
		m, err := cli.RequestWait(wctx, b.NewMessage(T("clocks", "control", method), nil, false))
		wcancel()
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		if m.Payload != method {
			t.Fatalf("%s: reply %v", method, m.Payload)
		}
	}

	// Reply subscriptions are released once the wait returns.
	if n := len(cli.subs); n != 0 {
		t.Fatalf("%d reply subscriptions left", n)
	}
}

func TestRequestWaitWithoutResponder(t *testing.T) {
	b := NewBus(4)
	cli := b.NewConnection("cli")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cli.RequestWait(ctx, b.NewMessage(T("clocks", "control", "get"), nil, false))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestRequestWaitClosedByDisconnect(t *testing.T) {
	b := NewBus(4)
	cli := b.NewConnection("cli")
	svc := b.NewConnection("clocks")
	sub := svc.Subscribe(T("clocks", "control", "apply"))
	go func() {
		<-sub.Channel()
		cli.Disconnect()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := cli.RequestWait(ctx, b.NewMessage(T("clocks", "control", "apply"), nil, false))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestReplyTopics(t *testing.T) {
	b := NewBus(4)
	cli := b.NewConnection("cli")
	m1 := b.NewMessage(T("clocks", "control", "get"), nil, false)
	m2 := b.NewMessage(T("clocks", "control", "get"), nil, false)
	s1, s2 := cli.Request(m1), cli.Request(m2)
	defer cli.Disconnect()

	if m1.ReplyTo.String() == m2.ReplyTo.String() {
		t.Fatalf("reply topics collide: %s", m1.ReplyTo)
	}
	if m1.ReplyTo[0] != "_reply" || m1.ReplyTo[1] != "cli" {
		t.Fatalf("reply topic %s", m1.ReplyTo)
	}

	svc := b.NewConnection("clocks")
	if svc.Reply(b.NewMessage(T("config", "clocks"), nil, false), "ok", false) {
		t.Fatal("Reply without ReplyTo reported true")
	}
	if !svc.Reply(m2, "ok", false) {
		t.Fatal("Reply reported false")
	}
	recv(t, s2)
	expectEmpty(t, s1)
}

func TestDisconnectClosesEverySubscription(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("clocks")
	subs := []*Subscription{
		c.Subscribe(T("config", "clocks")),
		c.Subscribe(T("config", "usart")),
		c.Subscribe(T("clocks", "control", SingleLevel)),
	}
	c.Disconnect()

	for _, s := range subs {
		if _, ok := <-s.Channel(); ok {
			t.Fatalf("%s still open", s.Topic())
		}
	}
	if len(b.root.children) != 0 {
		t.Fatal("trie not pruned after Disconnect")
	}
	// Publishing to the former topics is harmless.
	c.Publish(b.NewMessage(T("config", "clocks"), "irc12", false))
}
