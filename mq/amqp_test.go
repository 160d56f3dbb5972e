package mq

import "testing"

func TestDeliveryMode(t *testing.T) {
	if deliveryMode(true) != 2 {
		t.Errorf("expected persistent delivery mode 2 for a durable queue, got %d", deliveryMode(true))
	}
	if deliveryMode(false) != 1 {
		t.Errorf("expected transient delivery mode 1 for a non-durable queue, got %d", deliveryMode(false))
	}
}

func TestOptionsApply(t *testing.T) {
	o := &options{}
	for _, opt := range []Option{WithDurable(), WithExclusive(), WithDeleteUnused()} {
		opt(o)
	}
	if !o.durable || !o.exclusive || !o.deleteUnused {
		t.Errorf("expected all three options applied, got %+v", o)
	}
}
