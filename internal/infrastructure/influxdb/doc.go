// Package influxdb provides InfluxDB connectivity for PLCWatch Core.
//
// It wraps the official influxdb-client-go v2 library and records one point
// per poll cycle in the plc_poll measurement. Live register values are not
// stored.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	monitor.SetObserver(modbus.Observers{health, influxdb.NewPollRecorder(client)})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; asynchronous write
// errors are delivered to the SetOnError callback.
package influxdb
