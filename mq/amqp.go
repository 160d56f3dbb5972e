// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package mq is the message-queue collaborator carrying WorkItems from
// the agent's GitHub webhook ingestion to the dispatcher's queue,
// adapted from agent/message_queue.go's AmqpQueue: the same
// Produce/Consume shape over github.com/streadway/amqp, generalised
// from raw []byte payloads to JSON-encoded model.WorkItem values and
// given a persistent connection instead of dialling per call.
package mq

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/codepr/graderd/model"
)

// Queue produces and consumes model.WorkItem messages.
type Queue interface {
	Produce(ctx context.Context, item model.WorkItem) error
	Consume(ctx context.Context) (<-chan model.WorkItem, error)
	Close() error
}

// AmqpQueue is a Queue backed by a single AMQP connection and channel,
// matching the durable/auto-delete/exclusive/no-wait knobs
// agent/message_queue.go exposed as QueueOptions.
type AmqpQueue struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   amqp.Queue
	durable bool
}

type Option func(*options)

type options struct {
	durable      bool
	deleteUnused bool
	exclusive    bool
	noWait       bool
}

func WithDurable() Option      { return func(o *options) { o.durable = true } }
func WithExclusive() Option    { return func(o *options) { o.exclusive = true } }
func WithDeleteUnused() Option { return func(o *options) { o.deleteUnused = true } }

// Dial connects to url and declares queueName with opts, matching
// NewAmqpQueue's constructor-option shape.
func Dial(url, queueName string, opts ...Option) (*AmqpQueue, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dialing amqp broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "opening amqp channel")
	}

	queue, err := ch.QueueDeclare(queueName, o.durable, o.deleteUnused, o.exclusive, o.noWait, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.Wrapf(err, "declaring queue %q", queueName)
	}

	return &AmqpQueue{conn: conn, ch: ch, queue: queue, durable: o.durable}, nil
}

func (q *AmqpQueue) Close() error {
	q.ch.Close()
	return q.conn.Close()
}

func (q *AmqpQueue) Produce(ctx context.Context, item model.WorkItem) error {
	body, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "encoding work item")
	}
	return q.ch.Publish("", q.queue.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: deliveryMode(q.durable),
		Body:         body,
	})
}

func deliveryMode(durable bool) uint8 {
	if durable {
		return amqp.Persistent
	}
	return amqp.Transient
}

// Consume starts delivering decoded WorkItems on the returned channel
// until ctx is cancelled; malformed deliveries are dropped silently,
// not logged and not surfaced as errors, matching the fire-and-forget
// shape of the teacher's Consume.
func (q *AmqpQueue) Consume(ctx context.Context) (<-chan model.WorkItem, error) {
	deliveries, err := q.ch.Consume(q.queue.Name, "", true, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrap(err, "starting amqp consumer")
	}

	items := make(chan model.WorkItem)
	go func() {
		defer close(items)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var item model.WorkItem
				if err := json.Unmarshal(d.Body, &item); err != nil {
					continue
				}
				select {
				case items <- item:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return items, nil
}
