package main

import (
	"log"

	"github.com/prashantgupta24/mac-sleep-notifier/notifier"
)

// watchWake forwards host wake notifications, keeping at most one pending.
func watchWake() <-chan struct{} {
	sleepCh := notifier.GetInstance().Start()
	wakeCh := make(chan struct{}, 1)
	go func() {
		for activity := range sleepCh {
			if activity.Type == notifier.Awake {
				log.Println("System wake detected")
				select {
				case wakeCh <- struct{}{}:
				default:
				}
			}
		}
	}()
	return wakeCh
}
