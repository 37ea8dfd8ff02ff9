package sse

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ereignistypen
const (
	EventRecognitionUpdated = "aws_face_recognition_updated"
	EventFacesUpdated       = "aws_face_recognition_faces_updated"
)

// Event ist eine Benachrichtigung an alle Abonnenten
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Encode serialisiert die Nutzdaten des Events
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e.Data)
}

// Client repräsentiert einen einzelnen Abonnenten (SSE, Websocket, MQTT)
type Client chan Event

// Hub verwaltet die Menge der aktiven Clients und sendet Broadcasts an sie
type Hub struct {
	// Registrierte Clients
	clients map[Client]bool

	// Eingehende Ereignisse von der Anwendung
	broadcast chan Event

	// Registrierungsanfragen von Clients
	register chan Client

	// Abmeldeanfragen von Clients
	unregister chan Client

	// done wird geschlossen, wenn Run endet
	done chan struct{}

	// Mutex zum Schutz des simultanen Zugriffs auf die Clients-Map
	mu sync.Mutex
}

// NewHub erstellt eine neue Hub-Instanz
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Event, 100), // Puffer für 100 Ereignisse
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
		done:       make(chan struct{}),
	}
}

// Run startet die Verarbeitungsschleife des Hubs bis ctx beendet wird.
// Dies sollte in einer separaten Goroutine ausgeführt werden.
func (h *Hub) Run(ctx context.Context) {
	log.Info("Event hub started and running")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()
			log.Info("Event hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Debugf("Event client registered. Total clients: %d", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Debugf("Event client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			log.Debugf("Broadcasting %s to %d clients", event.Type, len(h.clients))
			for client := range h.clients {
				select {
				case client <- event:
				default:
					// Client-Kanal ist voll
					log.Warn("Event client channel full, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register registriert einen neuen Client am Hub
func (h *Hub) Register(client Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client)
	}
}

// Unregister meldet einen Client vom Hub ab
func (h *Hub) Unregister(client Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe registriert einen gepufferten Client und liefert die Abmeldefunktion
func (h *Hub) Subscribe(buffer int) (Client, func()) {
	client := make(Client, buffer)
	h.Register(client)
	var once sync.Once
	return client, func() {
		once.Do(func() { h.Unregister(client) })
	}
}

// Broadcast sendet ein Ereignis an alle registrierten Clients
func (h *Hub) Broadcast(event Event) {
	// Blockieren vermeiden, wenn der Broadcast-Kanal voll ist
	select {
	case h.broadcast <- event:
	default:
		log.Warnf("Event broadcast channel full, %s dropped", event.Type)
	}
}

// ClientCount liefert die Anzahl registrierter Clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
