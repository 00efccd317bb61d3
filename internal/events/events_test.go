package events_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hypermarket/settlement-engine/internal/events"
)

type capture struct {
	seen []events.Event
}

func (c *capture) Emit(ev events.Event) { c.seen = append(c.seen, ev) }

func TestMulti_FansOutInOrder(t *testing.T) {
	a, b := &capture{}, &capture{}
	multi := events.Multi{a, b, events.Discard{}}

	ev := events.Event{
		ID:        "e1",
		Type:      events.TypeMarketCreated,
		MarketID:  "m1",
		Timestamp: time.Now().UTC(),
	}
	multi.Emit(ev)

	for name, c := range map[string]*capture{"first": a, "second": b} {
		if len(c.seen) != 1 || c.seen[0].ID != "e1" {
			t.Errorf("%s emitter saw %v, want one event e1", name, c.seen)
		}
	}
}

func TestEventEncoding_IrrelevantStringFieldsOmitted(t *testing.T) {
	data, err := json.Marshal(events.Event{
		ID:        "e1",
		Type:      events.TypeMarketCreated,
		MarketID:  "m1",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	body := string(data)
	for _, absent := range []string{`"from"`, `"to"`, `"side"`, `"outcome"`, `"account"`} {
		if strings.Contains(body, absent) {
			t.Errorf("encoding contains %s for an event it does not apply to: %s", absent, body)
		}
	}
	// Amount is a struct type, so it always encodes; "0" for non-monetary events.
	if !strings.Contains(body, `"amount":"0"`) {
		t.Errorf("encoding missing amount field: %s", body)
	}
}
