package detection

import (
	"fmt"
	"strings"
)

// Describe summarizes detections the way the narrated audio reads them:
// "I detected 3 objects. Objects found: 2 persons, 1 chair."
// Classes are listed in first-seen order.
func Describe(dets []Detection) string {
	if len(dets) == 0 {
		return "No objects detected in the image."
	}

	counts := make(map[string]int, len(dets))
	var order []string
	for _, d := range dets {
		if counts[d.Label] == 0 {
			order = append(order, d.Label)
		}
		counts[d.Label]++
	}

	var b strings.Builder
	if len(dets) == 1 {
		b.WriteString("I detected 1 object.")
	} else {
		fmt.Fprintf(&b, "I detected %d objects.", len(dets))
	}

	parts := make([]string, 0, len(order))
	for _, label := range order {
		n := counts[label]
		if n > 1 {
			parts = append(parts, fmt.Sprintf("%d %ss", n, label))
		} else {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	b.WriteString(" Objects found: ")
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString(".")
	return b.String()
}
