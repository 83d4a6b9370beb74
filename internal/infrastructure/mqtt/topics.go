package mqtt

// StatusTopic carries the retained online/offline status of this process.
// The broker publishes the offline payload here as the Last Will when the
// connection drops without a clean disconnect.
//
// Engine traffic (state, health, command, ack) is addressed by the
// helpers in the modbus package.
const StatusTopic = "plcwatch/system/status"
