// Package display renders the remaining time on a four-digit
// seven-segment module. Pure output; nothing feeds back into the core.
package display

// Display is the contract the engine renders through.
type Display interface {
	// Show renders HH:MM. Hours above 99 clamp to 99.
	Show(hours, minutes int, colon bool) error
	// ShowBlank renders the no-signal pattern (four dashes).
	ShowBlank() error
	Clear() error
}

// Seven-segment encodings, bit 0 = segment A .. bit 6 = segment G.
var digitSegments = [10]byte{
	0x3F, 0x06, 0x5B, 0x4F, 0x66, 0x6D, 0x7D, 0x07, 0x7F, 0x6F,
}

const (
	segDash  = 0x40
	segColon = 0x80 // colon LEDs ride on digit 1's bit 7
)

// encodeHHMM produces the four segment bytes for HH:MM.
func encodeHHMM(hours, minutes int, colon bool) [4]byte {
	if hours > 99 {
		hours = 99
	}
	if hours < 0 {
		hours = 0
	}
	if minutes < 0 {
		minutes = 0
	} else if minutes > 59 {
		minutes = 59
	}
	out := [4]byte{
		digitSegments[hours/10],
		digitSegments[hours%10],
		digitSegments[minutes/10],
		digitSegments[minutes%10],
	}
	if colon {
		out[1] |= segColon
	}
	return out
}

func encodeBlank() [4]byte {
	return [4]byte{segDash, segDash, segDash, segDash}
}
