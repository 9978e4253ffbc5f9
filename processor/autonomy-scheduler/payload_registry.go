package autonomyscheduler

import "github.com/c360studio/semstreams/component"

func init() {
	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "autonomy",
		Category:    "tick",
		Version:     "v1",
		Description: "Actions and errors of one autonomy scheduler tick",
		Factory:     func() any { return &TickReport{} },
	}); err != nil {
		panic("failed to register TickReport: " + err.Error())
	}
}
