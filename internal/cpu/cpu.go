package cpu

// WithInterruptsDisabled masks interrupts for the duration of fn and
// restores the prior IF state afterward, mirroring
// original_source/kernel/src/scheduler.rs's without_interrupts helper
// and spec §5's "interrupts are masked for the enqueue region" rule.
func WithInterruptsDisabled(fn func()) {
	was := InterruptsEnabled()
	DisableInterrupts()
	defer func() {
		if was {
			EnableInterrupts()
		}
	}()
	fn()
}
