package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Spinner shows an animated marker next to a message while a long
// operation runs.
type Spinner struct {
	message string
	style   SpinnerStyle
	writer  io.Writer
	colors  ColorSystem

	mu     sync.Mutex
	active bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSpinner creates a stopped spinner.
func NewSpinner(message string, writer io.Writer, colors ColorSystem) *Spinner {
	return &Spinner{
		message: message,
		style:   SpinnerStyles["dots"],
		writer:  writer,
		colors:  colors,
	}
}

// Start begins the animation. Starting a running spinner is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.animate()
}

// Update replaces the spinner's message.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop ends the animation, clears the line, and prints the final message.
func (s *Spinner) Stop(finalMessage string) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
	fmt.Fprint(s.writer, "\r\033[K")
	if finalMessage != "" {
		fmt.Fprintln(s.writer, finalMessage)
	}
}

func (s *Spinner) animate() {
	defer close(s.doneCh)

	ticker := time.NewTicker(time.Duration(s.style.Delay) * time.Millisecond)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			message := s.message
			s.mu.Unlock()

			glyph := s.style.Frames[frame%len(s.style.Frames)]
			if s.colors != nil {
				glyph = s.colors.Colorize(glyph, s.colors.Theme().Primary)
			}
			fmt.Fprintf(s.writer, "\r\033[K%s %s", glyph, message)
			frame++
		}
	}
}

// ProgressBar renders a single-line completion bar.
type ProgressBar struct {
	mu      sync.Mutex
	current int64
	total   int64
	message string
	width   int
	writer  io.Writer
	colors  ColorSystem
}

// NewProgressBar creates a bar over total units.
func NewProgressBar(total int64, message string, writer io.Writer, colors ColorSystem) *ProgressBar {
	return &ProgressBar{
		total:   total,
		message: message,
		width:   40,
		writer:  writer,
		colors:  colors,
	}
}

// Update sets the current position and redraws.
func (pb *ProgressBar) Update(current int64, message string) {
	pb.mu.Lock()
	pb.current = current
	if message != "" {
		pb.message = message
	}
	pb.mu.Unlock()
	pb.render()
}

// Increment advances the bar by n units.
func (pb *ProgressBar) Increment(n int64) {
	pb.mu.Lock()
	pb.current += n
	pb.mu.Unlock()
	pb.render()
}

// Finish fills the bar and terminates the line.
func (pb *ProgressBar) Finish(finalMessage string) {
	pb.mu.Lock()
	pb.current = pb.total
	if finalMessage != "" {
		pb.message = finalMessage
	}
	pb.mu.Unlock()
	pb.render()
	fmt.Fprintln(pb.writer)
}

func (pb *ProgressBar) render() {
	pb.mu.Lock()
	current, total, message := pb.current, pb.total, pb.message
	width := pb.width
	pb.mu.Unlock()

	if total <= 0 {
		return
	}
	if current > total {
		current = total
	}

	filled := int(int64(width) * current / total)
	filledPart := strings.Repeat("█", filled)
	emptyPart := strings.Repeat("░", width-filled)
	bar := filledPart + emptyPart
	if pb.colors != nil {
		theme := pb.colors.Theme()
		bar = pb.colors.Colorize(filledPart, theme.Success) + pb.colors.Colorize(emptyPart, theme.Muted)
	}

	percent := float64(current) / float64(total) * 100
	fmt.Fprintf(pb.writer, "\r[%s] %5.1f%% (%d/%d) %s", bar, percent, current, total, message)
}

// PhaseTracker renders progress across a run's ordered phases.
type PhaseTracker struct {
	mu      sync.Mutex
	phases  []string
	current int
	writer  io.Writer
	colors  ColorSystem
	icons   IconSystem
}

// NewPhaseTracker creates a tracker over named phases.
func NewPhaseTracker(phases []string, writer io.Writer, colors ColorSystem, icons IconSystem) *PhaseTracker {
	return &PhaseTracker{
		phases:  phases,
		current: -1,
		writer:  writer,
		colors:  colors,
		icons:   icons,
	}
}

// StartPhase announces that the given phase has begun.
func (pt *PhaseTracker) StartPhase(index int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if index < 0 || index >= len(pt.phases) {
		return
	}
	pt.current = index

	label := fmt.Sprintf("Phase %d/%d: %s", index+1, len(pt.phases), pt.phases[index])
	if pt.colors != nil {
		label = pt.colors.Colorize(label, pt.colors.Theme().Primary)
	}
	fmt.Fprintln(pt.writer, label)
}

// CompletePhase marks the current phase done.
func (pt *PhaseTracker) CompletePhase(message string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.current < 0 {
		return
	}

	marker := "done"
	if pt.icons != nil {
		marker = pt.icons.RenderColored("success", pt.colors)
	}
	fmt.Fprintf(pt.writer, "  %s %s\n", marker, message)
}

// CurrentPhase reports the running phase index, -1 before the first.
func (pt *PhaseTracker) CurrentPhase() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.current
}
