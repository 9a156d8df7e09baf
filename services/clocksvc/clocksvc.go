// services/clocksvc/clocksvc.go
package clocksvc

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"lpc11u-hal/bus"
	"lpc11u-hal/clocks"
	"lpc11u-hal/drivers/usart"
	"lpc11u-hal/errcode"
)

// Topics. Frequencies and state are retained.
//
//	config/clocks            clocks.Spec         in
//	config/usart             {"baud": n}         in
//	clocks/control/<method>  request/reply       in   get, snapshot, apply
//	clocks/state             state map           out
//	clocks/freq/<node>       kHz (uint32)        out  cleared when not driven
//	usart/divisor            divisor map         out
var (
	topicConfigClocks = bus.T("config", "clocks")
	topicConfigUSART  = bus.T("config", "usart")
	topicControl      = bus.T("clocks", "control", bus.SingleLevel)
	topicState        = bus.T("clocks", "state")
	topicDivisor      = bus.T("usart", "divisor")
)

// FreqTopic is where the applied frequency of n is published.
func FreqTopic(n clocks.Node) bus.Topic { return bus.T("clocks", "freq", n.String()) }

// StateTopic is where the service publishes its state.
func StateTopic() bus.Topic { return topicState }

type Options struct {
	// USART, when set, is programmed with the divisor for config/usart.
	USART  usart.Bus
	Logger *log.Logger
}

// Service owns a Sequencer and applies whatever clock tree config/clocks
// describes.
type Service struct {
	conn *bus.Connection
	seq  *clocks.Sequencer
	opts Options

	baud uint32
}

// New returns a service driving seq. seq should publish to a Cache so that
// readers and the USART divisor see applied frequencies.
func New(conn *bus.Connection, seq *clocks.Sequencer, opts Options) *Service {
	return &Service{conn: conn, seq: seq, opts: opts}
}

// Start runs the service loop in a goroutine.
func (s *Service) Start(ctx context.Context) {
	go s.Run(ctx)
}

// Run blocks until ctx is done.
func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigClocks)
	uartSub := s.conn.Subscribe(topicConfigUSART)
	ctrlSub := s.conn.Subscribe(topicControl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(uartSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			if msg == nil || msg.Payload == nil {
				continue
			}
			spec, err := decodeSpec(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			if err := s.apply(ctx, spec); err != nil {
				continue
			}
			s.updateDivisor()

		case msg := <-uartSub.Channel():
			if msg == nil {
				continue
			}
			var cfg struct {
				Baud uint32 `json:"baud"`
			}
			if err := decodeJSON(msg.Payload, &cfg); err != nil {
				s.logf("clocksvc: config/usart: %v", err)
				continue
			}
			s.baud = cfg.Baud
			s.updateDivisor()

		case msg := <-ctrlSub.Channel():
			if msg != nil {
				s.control(ctx, msg)
			}
		}
	}
}

// apply builds and programs spec, publishing state and frequencies.
func (s *Service) apply(ctx context.Context, spec clocks.Spec) error {
	cfg, err := spec.Build()
	if err != nil {
		s.publishState("error", "invalid_config", err)
		return err
	}
	preset := spec.Preset
	if preset == "" {
		preset = clocks.PresetIRC12
	}
	s.publishState("applying", preset, nil)
	if err := s.seq.Apply(ctx, cfg); err != nil {
		s.publishState("error", "apply_failed", err)
		return err
	}
	f, _ := cfg.Frequencies()
	for n := clocks.Node(0); n < clocks.NumNodes; n++ {
		var payload any // nil clears the retained value
		if khz, ok := f.KHz(n); ok {
			payload = khz
		}
		s.conn.Publish(s.conn.NewMessage(FreqTopic(n), payload, true))
	}
	s.publishState("ready", "applied", nil)
	return nil
}

func (s *Service) reader() clocks.Reader {
	if c := s.seq.Cache(); c != nil {
		return c
	}
	return clocks.NewCache()
}

func (s *Service) updateDivisor() {
	if s.baud == 0 {
		return
	}
	d, err := usart.ForBaud(s.reader(), s.baud)
	if err != nil {
		s.logf("clocksvc: usart %d baud: %v", s.baud, err)
		s.conn.Publish(s.conn.NewMessage(topicDivisor, map[string]any{"baud": s.baud, "error": err.Error()}, true))
		return
	}
	if s.opts.USART != nil {
		if err := usart.Program(s.opts.USART, d); err != nil {
			s.logf("clocksvc: %v", err)
		}
	}
	s.conn.Publish(s.conn.NewMessage(topicDivisor, map[string]any{
		"baud":        d.Baud,
		"actual_baud": d.ActualBaud,
		"dl":          d.DL,
	}, true))
}

// control serves clocks/control/<method>.
func (s *Service) control(ctx context.Context, msg *bus.Message) {
	if len(msg.Topic) < 3 {
		return
	}
	method, _ := msg.Topic[2].(string)
	switch method {
	case "get":
		name, _ := msg.Payload.(string)
		n, ok := clocks.ParseNode(name)
		if !ok {
			s.replyErr(msg, errcode.InvalidParams, "unknown node")
			return
		}
		khz, driven := s.reader().KHz(n)
		s.replyOK(msg, map[string]any{"node": name, "khz": khz, "driven": driven})

	case "snapshot":
		r := s.reader()
		out := make(map[string]any, clocks.NumNodes)
		for n := clocks.Node(0); n < clocks.NumNodes; n++ {
			khz, _ := r.KHz(n)
			out[n.String()] = khz
		}
		s.replyOK(msg, out)

	case "apply":
		spec, err := decodeSpec(msg.Payload)
		if err != nil {
			s.replyErr(msg, errcode.InvalidParams, err.Error())
			return
		}
		if err := s.apply(ctx, spec); err != nil {
			s.replyErr(msg, errcode.Of(err), err.Error())
			return
		}
		s.updateDivisor()
		s.replyOK(msg, map[string]any{"stage": s.seq.LastStage().String()})

	default:
		s.replyErr(msg, errcode.Unsupported, "unknown method")
	}
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,
		"status": status,
		"stage":  s.seq.LastStage().String(),
		"ts_ms":  time.Now().UnixMilli(),
	}
	if err != nil {
		payload["error"] = err.Error()
		payload["code"] = string(errcode.Of(err))
		s.logf("clocksvc: %s: %v", status, err)
	}
	s.conn.Publish(s.conn.NewMessage(topicState, payload, true))
}

func (s *Service) replyOK(req *bus.Message, extra map[string]any) {
	if len(req.ReplyTo) == 0 {
		return
	}
	m := map[string]any{"ok": true}
	for k, v := range extra {
		m[k] = v
	}
	s.conn.Reply(req, m, false)
}

func (s *Service) replyErr(req *bus.Message, code errcode.Code, e string) {
	if len(req.ReplyTo) == 0 {
		return
	}
	s.conn.Reply(req, map[string]any{"ok": false, "code": string(code), "error": e}, false)
}

func (s *Service) logf(format string, args ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Printf(format, args...)
	}
}

func decodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		// Maps from config/, structs from in-process callers.
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}

func decodeSpec(src any) (clocks.Spec, error) {
	switch v := src.(type) {
	case clocks.Spec:
		return v, nil
	case []byte:
		return clocks.ParseSpec(v)
	case string:
		return clocks.ParseSpec([]byte(v))
	}
	b, err := json.Marshal(src)
	if err != nil {
		return clocks.Spec{}, errcode.Wrap(errcode.InvalidParams, "clocksvc.decodeSpec", err)
	}
	return clocks.ParseSpec(b)
}
