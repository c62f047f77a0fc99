package stream

import (
	"sync"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
)

type (
	// Envelope pairs an event with its run for observers that watch
	// every run at once
	Envelope struct {
		Event *api.RunEvent `json:"event"`
		RunID api.RunID     `json:"runId"`
	}

	// Hub fans persisted run events out to live observers. Each
	// observer gets its own consumer; slow observers never block the
	// publisher
	Hub struct {
		topic     topic.Topic[*Envelope]
		prod      topic.Producer[*Envelope]
		closeOnce sync.Once
	}
)

func NewHub() *Hub {
	t := caravan.NewTopic[*Envelope]()
	return &Hub{
		topic: t,
		prod:  t.NewProducer(),
	}
}

// Publish mirrors one persisted event to all observers
func (h *Hub) Publish(id api.RunID, ev *api.RunEvent) {
	message.Send(h.prod, &Envelope{
		RunID: id,
		Event: ev,
	})
}

// NewConsumer registers a new observer. The caller must Close it
func (h *Hub) NewConsumer() topic.Consumer[*Envelope] {
	return h.topic.NewConsumer()
}

func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.prod.Close()
	})
}
