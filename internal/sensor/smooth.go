package sensor

// SmoothingConfig sets rolling-average window sizes, in samples, for each
// field group. A window of 0 or 1 passes values through unchanged.
type SmoothingConfig struct {
	Particulate int
	Gas         int
	Climate     int
}

// Enabled reports whether any group averages more than one sample.
func (c SmoothingConfig) Enabled() bool {
	return c.Particulate > 1 || c.Gas > 1 || c.Climate > 1
}

// window is a fixed-size ring of recent samples with a running sum.
type window struct {
	buf  []float64
	next int
	n    int
	sum  float64
}

func newWindow(size int) *window {
	if size <= 1 {
		return nil
	}
	return &window{buf: make([]float64, size)}
}

// add records v and returns the mean of the samples held. A nil window
// returns v unchanged.
func (w *window) add(v float64) float64 {
	if w == nil {
		return v
	}
	if w.n == len(w.buf) {
		w.sum -= w.buf[w.next]
	} else {
		w.n++
	}
	w.buf[w.next] = v
	w.sum += v
	w.next = (w.next + 1) % len(w.buf)
	return w.sum / float64(w.n)
}

func (w *window) reset() {
	if w == nil {
		return
	}
	w.next, w.n, w.sum = 0, 0, 0
}

// Smoother averages each field over its group's window. Until a window
// fills it averages the samples it has, so every output is complete.
type Smoother struct {
	fields [8]*window
}

// NewSmoother creates a smoother for cfg.
func NewSmoother(cfg SmoothingConfig) *Smoother {
	s := &Smoother{}
	for i := 0; i < 4; i++ {
		s.fields[i] = newWindow(cfg.Particulate)
	}
	s.fields[4] = newWindow(cfg.Gas)
	s.fields[5] = newWindow(cfg.Gas)
	s.fields[6] = newWindow(cfg.Climate)
	s.fields[7] = newWindow(cfg.Climate)
	return s
}

// Add folds r into the windows and returns the smoothed reading.
func (s *Smoother) Add(r RawReading) RawReading {
	return RawReading{
		PM1_0:       s.fields[0].add(r.PM1_0),
		PM2_5:       s.fields[1].add(r.PM2_5),
		PM4_0:       s.fields[2].add(r.PM4_0),
		PM10:        s.fields[3].add(r.PM10),
		VOCIndex:    s.fields[4].add(r.VOCIndex),
		NOxIndex:    s.fields[5].add(r.NOxIndex),
		Temperature: s.fields[6].add(r.Temperature),
		Humidity:    s.fields[7].add(r.Humidity),
	}
}

// Reset discards all history.
func (s *Smoother) Reset() {
	for _, w := range s.fields {
		w.reset()
	}
}
