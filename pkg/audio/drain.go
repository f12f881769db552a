package audio

// Drain discards values from ch until it is closed, so a producer goroutine
// blocked on a cancelled stream (synthesized speech, for instance) can exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
