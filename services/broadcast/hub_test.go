// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package broadcast

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

// startTestHub runs a hub behind an httptest server and returns the
// ws:// URL of its endpoint.
func startTestHub(t *testing.T) (*Hub, string) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)

	router := gin.New()
	router.GET("/v1/ws", HandleWS(hub))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/ws"
	return hub, wsURL
}

func TestHub_FanOutBetweenClients(t *testing.T) {
	hub, wsURL := startTestHub(t)
	ctx := context.Background()

	var received collector
	clientA := NewWSClient(wsURL, nil)
	cancelA, err := clientA.Subscribe(ctx, "user-a", []string{"g1"}, func(datatypes.BroadcastMessage) {})
	if err != nil {
		t.Fatalf("client A subscribe failed: %v", err)
	}
	defer cancelA()

	clientB := NewWSClient(wsURL, nil)
	cancelB, err := clientB.Subscribe(ctx, "user-b", []string{"g1"}, received.handler())
	if err != nil {
		t.Fatalf("client B subscribe failed: %v", err)
	}
	defer cancelB()

	if hub.ActiveSessions() != 2 {
		t.Fatalf("ActiveSessions() = %d, want 2", hub.ActiveSessions())
	}

	msg := datatypes.BroadcastMessage{
		GardenID: "g1",
		Kind:     datatypes.BroadcastTasks,
		ActorID:  "actor-a",
	}
	if err := clientA.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	received.waitFor(t, 1)
	received.mu.Lock()
	got := received.msgs[0]
	received.mu.Unlock()
	if got.GardenID != "g1" || got.ActorID != "actor-a" || got.Kind != datatypes.BroadcastTasks {
		t.Errorf("received message = %+v", got)
	}
}

func TestHub_EchoesToOrigin(t *testing.T) {
	// The hub deliberately echoes to the publishing connection; the
	// consumer's router is responsible for dropping self-echoes.
	_, wsURL := startTestHub(t)
	ctx := context.Background()

	var received collector
	client := NewWSClient(wsURL, nil)
	cancel, err := client.Subscribe(ctx, "user-a", []string{"g1"}, received.handler())
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	if err := client.Publish(ctx, datatypes.BroadcastMessage{
		GardenID: "g1", Kind: datatypes.BroadcastTasks, ActorID: "actor-a",
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	received.waitFor(t, 1)
}

func TestHub_DoesNotDeliverToOtherGardens(t *testing.T) {
	_, wsURL := startTestHub(t)
	ctx := context.Background()

	var received collector
	watcher := NewWSClient(wsURL, nil)
	cancelW, err := watcher.Subscribe(ctx, "user-b", []string{"g2"}, received.handler())
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancelW()

	publisher := NewWSClient(wsURL, nil)
	cancelP, err := publisher.Subscribe(ctx, "user-a", []string{"g1"}, func(datatypes.BroadcastMessage) {})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancelP()

	if err := publisher.Publish(ctx, datatypes.BroadcastMessage{
		GardenID: "g1", Kind: datatypes.BroadcastTasks,
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if received.count() != 0 {
		t.Errorf("g2 watcher received %d messages for garden g1", received.count())
	}
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub, wsURL := startTestHub(t)
	ctx := context.Background()

	client := NewWSClient(wsURL, nil)
	cancel, err := client.Subscribe(ctx, "user-a", []string{"g1"}, func(datatypes.BroadcastMessage) {})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && hub.ActiveSessions() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := hub.ActiveSessions(); got != 0 {
		t.Errorf("ActiveSessions() = %d after disconnect, want 0", got)
	}
}

func TestHub_PublishDuringDisconnectDoesNotPanic(t *testing.T) {
	hub, wsURL := startTestHub(t)
	ctx := context.Background()

	// The daemon publishes from its own goroutines; a client tearing
	// down mid-fan-out must never take those down with it. An
	// unrecovered panic in the publisher goroutine fails the test.
	stop := make(chan struct{})
	pubDone := make(chan struct{})
	go func() {
		defer close(pubDone)
		for {
			select {
			case <-stop:
				return
			default:
				_ = hub.Publish(ctx, datatypes.BroadcastMessage{
					GardenID: "g1", Kind: datatypes.BroadcastTasks, ActorID: "actor-z",
				})
			}
		}
	}()

	// Churn connections so publishes keep racing the teardown window
	// between the reader loop ending and the session unregistering.
	for i := 0; i < 20; i++ {
		client := NewWSClient(wsURL, nil)
		cancel, err := client.Subscribe(ctx, "user-a", []string{"g1"}, func(datatypes.BroadcastMessage) {})
		if err != nil {
			t.Fatalf("subscribe %d failed: %v", i, err)
		}
		cancel()
	}

	close(stop)
	<-pubDone

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && hub.ActiveSessions() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := hub.ActiveSessions(); got != 0 {
		t.Errorf("ActiveSessions() = %d after churn, want 0", got)
	}
}

func TestHub_LocalSubscriberHearsRemotePublishes(t *testing.T) {
	hub, wsURL := startTestHub(t)
	ctx := context.Background()

	// The daemon-side virtual session.
	var received collector
	cancelLocal, err := hub.Subscribe(ctx, "user-a", []string{"g1"}, received.handler())
	if err != nil {
		t.Fatalf("local subscribe failed: %v", err)
	}
	defer cancelLocal()

	remote := NewWSClient(wsURL, nil)
	cancelRemote, err := remote.Subscribe(ctx, "user-b", []string{"g1"}, func(datatypes.BroadcastMessage) {})
	if err != nil {
		t.Fatalf("remote subscribe failed: %v", err)
	}
	defer cancelRemote()

	if err := remote.Publish(ctx, datatypes.BroadcastMessage{
		GardenID: "g1", Kind: datatypes.BroadcastActivity, ActorID: "actor-b",
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	received.waitFor(t, 1)
	received.mu.Lock()
	got := received.msgs[0]
	received.mu.Unlock()
	if got.ActorID != "actor-b" || got.Kind != datatypes.BroadcastActivity {
		t.Errorf("received message = %+v", got)
	}

	cancelLocal()
	cancelLocal() // idempotent
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && hub.ActiveSessions() != 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := hub.ActiveSessions(); got != 1 {
		t.Errorf("ActiveSessions() = %d after local cancel, want 1", got)
	}
}

func TestWSClient_PublishBeforeSubscribe(t *testing.T) {
	client := NewWSClient("ws://127.0.0.1:0/v1/ws", nil)
	err := client.Publish(context.Background(), datatypes.BroadcastMessage{GardenID: "g1"})
	if err == nil {
		t.Fatal("Publish before Subscribe should fail")
	}
}
