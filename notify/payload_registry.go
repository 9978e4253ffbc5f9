package notify

import "github.com/c360studio/semstreams/component"

func init() {
	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "autonomy",
		Category:    "notification",
		Version:     "v1",
		Description: "Autonomy scheduler notification event",
		Factory:     func() any { return &Event{} },
	}); err != nil {
		panic("failed to register notification Event: " + err.Error())
	}
}
