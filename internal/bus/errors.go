// Package bus pushes commands, time, and schedule messages to the bell
// appliance over MQTT.
package bus

import "errors"

// Delivery sentinels. Connect and publish failures are kept distinct so
// callers can report which half of the handoff timed out.
var (
	// ErrConnectTimeout indicates the broker connection did not come up
	// within the configured bound.
	ErrConnectTimeout = errors.New("mqtt connect timeout")

	// ErrConnectFailed indicates the broker rejected or dropped the
	// connection attempt.
	ErrConnectFailed = errors.New("mqtt connect failed")

	// ErrPublishTimeout indicates the broker did not acknowledge a QoS 1
	// publish within the configured bound.
	ErrPublishTimeout = errors.New("mqtt publish timeout")

	// ErrPublishFailed indicates the broker reported a publish error.
	ErrPublishFailed = errors.New("mqtt publish failed")
)

// IsDeliveryError reports whether err belongs to the bus delivery taxonomy.
func IsDeliveryError(err error) bool {
	return errors.Is(err, ErrConnectTimeout) ||
		errors.Is(err, ErrConnectFailed) ||
		errors.Is(err, ErrPublishTimeout) ||
		errors.Is(err, ErrPublishFailed)
}
