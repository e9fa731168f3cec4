package audio

import "fmt"

// MMSS formats seconds as "mm:ss"
func MMSS(secs float64) string {
	total := int(secs)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// MMSSSS formats milliseconds as "mm:ss:cc" where cc is hundredths of a second
func MMSSSS(ms float64) string {
	total := int(ms / 1000)
	centis := (int(ms) % 1000) / 10
	return fmt.Sprintf("%02d:%02d:%02d", total/60, total%60, centis)
}
