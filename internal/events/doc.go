// Package events carries the observable history of a session to any number
// of subscribers.
//
// A session publishes turn_started, content_delta, turn_completed, error and
// cancelled events on its Bus. Subscribers implement a single Handle method
// and run on their own goroutine, so a slow or panicking subscriber never
// holds up the session or the other subscribers:
//
//	sub := bus.Subscribe(events.SubscriberFunc(func(e events.Event) {
//		if e.Kind == events.KindContentDelta {
//			fmt.Print(e.Text)
//		}
//	}))
//	defer sub.Unsubscribe()
package events
