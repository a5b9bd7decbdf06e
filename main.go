// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("go-devicesync - Payment Device Synchronization Library")
	fmt.Println("======================================================")
	fmt.Println()
	fmt.Println("go-devicesync coordinates synchronization sessions between an application,")
	fmt.Println("a user's account state on the commit service, and a wearable payment device,")
	fmt.Println("driving the APDU command protocol across the device's transport link.")
	fmt.Println()

	fmt.Println("Packages:")
	fmt.Println()
	fmt.Println("  events/      Typed publish/subscribe channel with subscription tokens")
	fmt.Println("  wearable/    Command execution engine: connection state machine, APDU")
	fmt.Println("               packages, non-APDU commits, per-command timeouts")
	fmt.Println("  devicesync/  Sync request queue, sync manager, commit service client,")
	fmt.Println("               local SQLite sync bookkeeping")
	fmt.Println()

	fmt.Println("Typical wiring:")
	fmt.Println()
	fmt.Println("  engine   := wearable.NewEngine(connector, hooks, nil)")
	fmt.Println("  store, _ := devicesync.NewStore(db, logger)")
	fmt.Println("  client   := devicesync.NewClient(cfg.BaseURL, tokenFn, cfg, logger)")
	fmt.Println("  manager  := devicesync.NewManager(client, store, engine, cfg, logger)")
	fmt.Println("  queue    := devicesync.NewRequestQueue(manager, cfg, logger)")
	fmt.Println()
	fmt.Println("  queue.Add(devicesync.NewRequest(user, device), completion)")
}
