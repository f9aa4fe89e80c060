package ws

import (
	"context"
	"errors"
	"sync"

	"vestnik/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

// Connection drives one authenticated websocket session: it pumps client
// events into the hub's routing components and server events back out.
type Connection struct {
	ws         wsConnection
	hub        *Hub
	relay      *Relay
	router     *SignalRouter
	conn       *Conn
	fromClient chan models.ClientEvent
	errorCh    chan error
}

func NewConnection(hub *Hub, relay *Relay, router *SignalRouter, ws wsConnection, conn *Conn) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		relay:      relay,
		router:     router,
		conn:       conn,
		fromClient: make(chan models.ClientEvent),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		// Any call this user was part of ends with their connection,
		// unless a newer login already superseded this one.
		if c.hub.Disconnect(c.conn) {
			c.router.HandleDisconnect(c.conn.UserID)
		}
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			c.processClientEvent(ev)
		case ev := <-c.conn.Events():
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientEvent(ev models.ClientEvent) {
	userID := c.conn.UserID

	switch ev.Type {
	case models.ClientEventJoinRoom:
		// Accepted for wire compatibility; routing is registry-based.

	case models.ClientEventSendMessage:
		persisted, err := c.relay.Send(userID, ev)
		if err != nil {
			reason := "failed to send message"
			if !errors.Is(err, ErrDeliveryFailed) {
				reason = err.Error()
			}
			c.hub.SendToConn(c.conn.ID, models.ServerEvent{
				Type:  models.ServerEventMessageError,
				Error: reason,
			})
			return
		}
		// The echo lets the sender reconcile optimistic UI state with
		// the canonical persisted record.
		c.hub.SendToConn(c.conn.ID, models.ServerEvent{
			Type:    models.ServerEventMessageSent,
			Message: &persisted,
		})

	case models.ClientEventStartCall:
		c.router.StartCall(userID, ev.To, ev.Kind)
	case models.ClientEventAcceptCall:
		c.router.AcceptCall(userID, ev.To)
	case models.ClientEventRejectCall:
		c.router.RejectCall(userID, ev.To)
	case models.ClientEventEndCall:
		c.router.EndCall(userID)

	case models.ClientEventOffer:
		c.router.Forward(models.ServerEventOffer, userID, ev)
	case models.ClientEventAnswer:
		c.router.Forward(models.ServerEventAnswer, userID, ev)
	case models.ClientEventICECandidate:
		c.router.Forward(models.ServerEventICECandidate, userID, ev)
	}
}
