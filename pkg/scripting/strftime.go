package scripting

import "strings"

// strftime verbs guest scripts use, mapped onto Go reference-time layout
// fragments. Unrecognized verbs pass through unchanged.
var strftimeLayouts = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'p': "PM",
	'a': "Mon",
	'A': "Monday",
	'b': "Jan",
	'B': "January",
	'Z': "MST",
	'%': "%",
}

// strftimeToLayout rewrites a strftime-style format into a Go time
// layout string.
func strftimeToLayout(format string) string {
	var out strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i == len(format)-1 {
			out.WriteByte(format[i])
			continue
		}
		i++
		if layout, ok := strftimeLayouts[format[i]]; ok {
			out.WriteString(layout)
		} else {
			out.WriteByte('%')
			out.WriteByte(format[i])
		}
	}
	return out.String()
}
