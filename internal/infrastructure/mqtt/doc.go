// Package mqtt provides MQTT client connectivity for the MAX! gateway.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on the health topic
//   - Topic layout under a configurable prefix (default "max2mqtt")
//
// # Architecture
//
// Room values decoded from the cube are published as retained messages so
// home automation controllers see current state on subscribe. Commands
// arrive on set topics and are answered on a per-room ack topic.
//
//	MAX! Cube ↔ maxcube engine ↔ bridge ↔ MQTT Broker ↔ controllers
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not local
//   - Credentials are validated against broker ACL
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.SetPattern(mqtt.SetTemp), 1,
//	    func(topic string, payload []byte) error {
//	        set, ok := topics.ParseSet(topic)
//	        ...
//	    })
//
//	client.Publish(topics.RoomValue(serial, "Living", mqtt.FieldSetTemp), []byte("21.5"), 1, true)
package mqtt
