package truncation

import (
	"fmt"
	"io"
	"strings"
)

// maxBarWidth caps the histogram bar; larger counts are scaled down.
const maxBarWidth = 50

// RenderHistogram writes one section per direction with a line
// "<length> | <bar> (<count>)" for every observed cutoff, ascending.
// The output is for people; nothing downstream parses it.
func RenderHistogram(w io.Writer, stats ...Stats) error {
	var b strings.Builder
	for i, st := range stats {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "== %s reads ==\n", st.Direction)
		fmt.Fprintf(&b, "samples=%d usable=%d unavailable=%d\n", st.Total, st.Count, st.Unavailable)
		fmt.Fprintf(&b, "mean=%d median=%d chosen=%d (%s)\n", st.Mean, st.Median, st.Chosen, st.Method)
		if len(st.Bins) == 0 {
			b.WriteString("(no usable cutoffs)\n")
			continue
		}

		peak := 0
		width := 0
		for _, bin := range st.Bins {
			if bin.Count > peak {
				peak = bin.Count
			}
			if n := len(fmt.Sprint(bin.Length)); n > width {
				width = n
			}
		}
		for _, bin := range st.Bins {
			fmt.Fprintf(&b, "%*d | %s (%d)\n", width, bin.Length, bar(bin.Count, peak), bin.Count)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func bar(count, peak int) string {
	n := count
	if peak > maxBarWidth {
		n = count * maxBarWidth / peak
		if n == 0 {
			n = 1
		}
	}
	return strings.Repeat("#", n)
}
