package liveness

// BlinkCounter counts blinks with two thresholds so ratio noise around a
// single cut-off cannot register one blink twice.
type BlinkCounter struct {
	Closed bool
	Count  int
}

// Observe feeds one EAR sample and reports whether it completed a blink.
func (b *BlinkCounter) Observe(ear float64, th Thresholds) bool {
	if ear <= 0 {
		return false
	}
	if !b.Closed {
		if ear < th.EARClosed {
			b.Closed = true
		}
		return false
	}
	if ear > th.EAROpen {
		b.Closed = false
		b.Count++
		return true
	}
	return false
}

// Satisfied reports whether enough blinks have been seen for the Blink gesture.
func (b *BlinkCounter) Satisfied(th Thresholds) bool {
	return b.Count >= th.BlinksRequired
}

func (b *BlinkCounter) Reset() {
	*b = BlinkCounter{}
}
