// Package mqtt forwards Leozera's operational events to an MQTT broker.
//
// Every event published on the in-process [events.Bus] (inbound and
// outbound WhatsApp messages, conversation turns, reminder sends, job
// runs) is republished as JSON under
// <topic_prefix>/<device_name>/events/<source>/<kind>. A retained
// status document with uptime, version and today's per-kind counters
// is refreshed every minute on <topic_prefix>/<device_name>/status.
//
// Connection management uses Eclipse Paho v2's [autopaho] package with
// automatic reconnection. A will message flips the retained
// availability topic to "offline" on unexpected disconnects.
package mqtt
