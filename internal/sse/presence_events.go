package sse

import (
	"context"
	"sync"

	"congressus-cache/internal/models"
)

// PresenceEmitter fans presence changes out to the dashboards watching an
// event.
type PresenceEmitter struct {
	// key: eventID, value: client channels
	clients map[string][]chan models.PresenceChanged
	mu      sync.RWMutex
}

func NewPresenceEmitter() *PresenceEmitter {
	return &PresenceEmitter{
		clients: make(map[string][]chan models.PresenceChanged),
	}
}

// SubscribeToEvent adds a client for one event. The channel is closed once
// ctx is done.
func (e *PresenceEmitter) SubscribeToEvent(ctx context.Context, eventID string) <-chan models.PresenceChanged {
	clientChan := make(chan models.PresenceChanged, 10)

	e.mu.Lock()
	e.clients[eventID] = append(e.clients[eventID], clientChan)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.removeClient(eventID, clientChan)
	}()

	return clientChan
}

// PublishPresenceChanged broadcasts change to the event's subscribers. Slow
// clients with a full buffer miss the update.
func (e *PresenceEmitter) PublishPresenceChanged(ctx context.Context, change models.PresenceChanged) error {
	// Sends happen under the read lock so removeClient cannot close a
	// channel mid-send.
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, clientChan := range e.clients[change.EventID.String()] {
		select {
		case clientChan <- change:
		default:
		}
	}
	return nil
}

func (e *PresenceEmitter) removeClient(eventID string, clientChan chan models.PresenceChanged) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.clients[eventID]) == 0 {
		delete(e.clients, eventID)
	}
}

// ClientCount returns the number of clients currently subscribed to an event
func (e *PresenceEmitter) ClientCount(eventID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[eventID])
}
