package glossary

// DefaultEntries is the signal processing vocabulary used when no glossary
// file is configured.
var DefaultEntries = []string{
	"Signal",
	"System",
	"Fourier transform",
	"Laplace",
	"Frequency",
	"Amplitude",
	"Phase",
	"Sampling",
	"Bandwidth",
	"Filter",
	"Modulation",
	"Digital Signal Processing",
	"Impulse Response",
	"signal system",
	"z transform",
}

// Default returns a glossary of DefaultEntries.
func Default() *Glossary {
	return New(DefaultEntries...)
}
