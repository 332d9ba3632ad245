package fieldmap

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

var airlinePrefix = regexp.MustCompile(`^[A-Z]{2}(\d+)$`)

// Normalization step names accepted in mapping tables.
const (
	StepTrim             = "trim"
	StepUpper            = "upper"
	StepLower            = "lower"
	StepStripAirline     = "stripAirlinePrefix"
	StepTrimLeadingZeros = "trimLeadingZeros"
	StepRemoveSpaces     = "removeSpaces"
	StepGenerateODPairs  = "generateODPairs"
	stepFirstPrefix      = "first"
)

// Normalize runs value through the ordered steps. Steps that expand a
// value (generateODPairs) fan out and the remaining steps apply to each item.
func Normalize(value string, steps []string) []string {
	values := []string{value}
	for _, step := range steps {
		next := make([]string, 0, len(values))
		for _, v := range values {
			next = append(next, applyStep(v, step)...)
		}
		values = next
	}
	return values
}

func applyStep(v, step string) []string {
	switch step {
	case StepTrim:
		return []string{strings.TrimSpace(v)}
	case StepUpper:
		return []string{strings.ToUpper(v)}
	case StepLower:
		return []string{strings.ToLower(v)}
	case StepStripAirline:
		return []string{StripAirlinePrefix(v)}
	case StepTrimLeadingZeros:
		t := strings.TrimLeft(v, "0")
		if t == "" {
			t = "0"
		}
		return []string{t}
	case StepRemoveSpaces:
		return []string{strings.ReplaceAll(v, " ", "")}
	case StepGenerateODPairs:
		return ODPairs(v)
	}
	if n, ok := firstN(step); ok {
		r := []rune(v)
		if len(r) > n {
			r = r[:n]
		}
		return []string{string(r)}
	}
	slog.Warn("unknown normalization step", "step", step)
	return []string{v}
}

// firstN parses "first7" style steps.
func firstN(step string) (int, bool) {
	if !strings.HasPrefix(step, stepFirstPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(step[len(stepFirstPrefix):])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// StripAirlinePrefix turns "QR1234" into "1234"; values without a two-letter
// prefix are returned trimmed.
func StripAirlinePrefix(v string) string {
	v = strings.TrimSpace(v)
	if m := airlinePrefix.FindStringSubmatch(v); m != nil {
		return m[1]
	}
	return v
}

// ODPairs splits an itinerary into consecutive origin-destination pairs:
// "CAI-DOH-CGK" becomes ["CAI-DOH", "DOH-CGK"].
func ODPairs(itinerary string) []string {
	if itinerary == "" {
		return []string{}
	}
	if !strings.Contains(itinerary, "-") {
		return []string{itinerary}
	}
	var segments []string
	for _, s := range strings.Split(itinerary, "-") {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) < 2 {
		return []string{itinerary}
	}
	pairs := make([]string, 0, len(segments)-1)
	for i := 0; i < len(segments)-1; i++ {
		pairs = append(pairs, segments[i]+"-"+segments[i+1])
	}
	return pairs
}
