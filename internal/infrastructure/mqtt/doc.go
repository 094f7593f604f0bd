// Package mqtt provides MQTT client connectivity for TwinCore.
//
// This package manages:
//   - Connection to the MQTT broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// TwinCore uses MQTT as its outward-facing message surface: twin change
// events and retained board summaries flow out, virtual-write commands
// flow in. The broker decouples the engine from dashboards, automations
// and other consumers.
//
//	Consumers ↔ MQTT Broker ↔ TwinCore Engine ↔ Serial/REPL ↔ Hardware
//
// The client itself is transport only. Topic payloads and the routing of
// inbound commands live in the gateway package, which talks to this
// client through a narrow interface.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff with configured delays
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to every twin's event stream
//	err = client.Subscribe(mqtt.Topics{}.AllTwinEvents(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Request a virtual GPIO write
//	topic := mqtt.Topics{}.CommandGPIO("esp32-garage")
//	client.Publish(topic, []byte(`{"pin":2,"value":true}`), 1, false)
package mqtt
