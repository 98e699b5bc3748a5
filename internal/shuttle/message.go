package shuttle

import "strings"

// MessageKind tags the variant of an inbound shuttle line. Replacing the
// startswith/endswith branch chain of the original client with one
// constructor per kind lets the state engine apply an exhaustive switch
// instead of re-deriving the kind at every call site.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindStarted
	KindDone
	KindAbort
	KindLocation
	KindCount
	KindStatus
	KindBattery
	KindWdh
	KindWlh
	KindFCode
	KindMrcd
)

// Message is a parsed inbound shuttle line. Raw always holds the original
// line (stripped of its trailing newline) so handlers that need the whole
// line — ABORT's error_code, STARTED's sub-state contains checks — don't
// need to re-derive it.
type Message struct {
	Kind  MessageKind
	Raw   string
	Value string
}

func startedMessage(raw string) Message  { return Message{Kind: KindStarted, Raw: raw} }
func doneMessage(raw string) Message     { return Message{Kind: KindDone, Raw: raw} }
func abortMessage(raw string) Message    { return Message{Kind: KindAbort, Raw: raw} }
func locationMessage(raw, blob string) Message {
	return Message{Kind: KindLocation, Raw: raw, Value: blob}
}
func countMessage(raw string) Message    { return Message{Kind: KindCount, Raw: raw} }
func statusMessage(raw, val string) Message {
	return Message{Kind: KindStatus, Raw: raw, Value: val}
}
func batteryMessage(raw, val string) Message {
	return Message{Kind: KindBattery, Raw: raw, Value: val}
}
func wdhMessage(raw, val string) Message { return Message{Kind: KindWdh, Raw: raw, Value: val} }
func wlhMessage(raw, val string) Message { return Message{Kind: KindWlh, Raw: raw, Value: val} }
func fCodeMessage(raw string) Message    { return Message{Kind: KindFCode, Raw: raw} }
func mrcdMessage(raw string) Message     { return Message{Kind: KindMrcd, Raw: raw} }
func unknownMessage(raw string) Message  { return Message{Kind: KindUnknown, Raw: raw} }

// ParseMessage classifies a single inbound line per §4.3's ordered rule
// table: first match wins.
func ParseMessage(line string) Message {
	if line == "MRCD" {
		return mrcdMessage(line)
	}
	switch {
	case strings.HasSuffix(line, "_STARTED"):
		return startedMessage(line)
	case strings.HasSuffix(line, "_DONE"):
		return doneMessage(line)
	case strings.HasSuffix(line, "_ABORT"):
		return abortMessage(line)
	case strings.HasPrefix(line, "LOCATION="):
		return locationMessage(line, strings.TrimPrefix(line, "LOCATION="))
	case strings.HasPrefix(line, "COUNT_") && strings.Contains(line, "="):
		return countMessage(line)
	case strings.HasPrefix(line, "STATUS="):
		return statusMessage(line, strings.TrimPrefix(line, "STATUS="))
	case strings.HasPrefix(line, "BATTERY="):
		return batteryMessage(line, strings.TrimPrefix(line, "BATTERY="))
	case strings.HasPrefix(line, "WDH="):
		return wdhMessage(line, strings.TrimPrefix(line, "WDH="))
	case strings.HasPrefix(line, "WLH="):
		return wlhMessage(line, strings.TrimPrefix(line, "WLH="))
	case strings.HasPrefix(line, "F_CODE="):
		return fCodeMessage(line)
	default:
		return unknownMessage(line)
	}
}

// ParseCell extracts the "CELL:<id>" segment from a LOCATION blob, up to
// the next comma or end of string, per §4.3.
func ParseCell(blob string) (string, bool) {
	idx := strings.Index(blob, "CELL:")
	if idx < 0 {
		return "", false
	}
	rest := blob[idx+len("CELL:"):]
	if comma := strings.IndexByte(rest, ','); comma >= 0 {
		rest = rest[:comma]
	}
	return rest, true
}
