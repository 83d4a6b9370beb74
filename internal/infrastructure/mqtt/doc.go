// Package mqtt provides MQTT client connectivity for PLCWatch Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Traffic
//
// The polling engine mirrors its update bus onto the broker and accepts
// register writes from it:
//
//	plcwatch/state/modbus/{controller_id}    snapshots (retained)
//	plcwatch/health/modbus                   engine health (retained)
//	plcwatch/command/modbus/{controller_id}  write commands (subscribed)
//	plcwatch/ack/modbus/{controller_id}      write acknowledgements
//	plcwatch/system/status                   online/offline with LWT
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(modbus.CommandSubscribeTopic(), 1, commands.Handle)
//
// Client satisfies modbus.Publisher, so it can be handed directly to the
// snapshot publisher, health reporter, and command handler.
package mqtt
