package intent

import (
	"regexp"
	"strings"

	"query-orchestrator/internal/models"
)

type tagged struct {
	re    *regexp.Regexp
	value string
}

var (
	controlActions = []tagged{
		{regexp.MustCompile(`\b(?:turn|switch|power)\s+on\b`), "on"},
		{regexp.MustCompile(`\b(?:turn|switch|power)\s+off\b`), "off"},
		{regexp.MustCompile(`\b(?:turn|switch)\b.*\boff\b`), "off"},
		{regexp.MustCompile(`\b(?:turn|switch)\b.*\bon\b`), "on"},
		{regexp.MustCompile(`\bunlock\b`), "unlock"},
		{regexp.MustCompile(`\block\b`), "lock"},
		{regexp.MustCompile(`\bdim\b`), "dim"},
		{regexp.MustCompile(`\bbrighten\b`), "brighten"},
		{regexp.MustCompile(`\bopen\b`), "open"},
		{regexp.MustCompile(`\bclose\b`), "close"},
		{regexp.MustCompile(`\bunmute\b`), "unmute"},
		{regexp.MustCompile(`\bmute\b`), "mute"},
		{regexp.MustCompile(`\bplay\b`), "play"},
		{regexp.MustCompile(`\bpause\b`), "pause"},
		{regexp.MustCompile(`\bstop\b`), "stop"},
		{regexp.MustCompile(`\b(?:raise|increase)\b`), "increase"},
		{regexp.MustCompile(`\b(?:lower|decrease)\b`), "decrease"},
		{regexp.MustCompile(`\bactivate\b`), "activate"},
		{regexp.MustCompile(`\bset\b`), "set"},
	}

	rooms = compileAll([]string{
		"living room", "dining room", "master bedroom", "family room", "guest room", "laundry room",
		"kitchen", "bedroom", "bathroom", "office", "garage", "basement", "hallway", "porch", "den",
		"nursery", "patio", "attic", "upstairs", "downstairs",
	})

	colors = compileAll([]string{
		"warm white", "cool white", "red", "orange", "yellow", "green", "blue", "purple", "pink", "white",
	})

	temperatureValue = regexp.MustCompile(`\b(\d{2,3})\s*(?:degrees\b|°)`)
	temperatureTo    = regexp.MustCompile(`\b(?:thermostat|temperature|heat|heating)\b.*\bto\s+(\d{2,3})\b`)
	brightnessValue  = regexp.MustCompile(`\b(\d{1,3})\s*(?:%|percent\b)`)

	timeframes = compileAll([]string{
		"right now", "this weekend", "this week", "next week", "tomorrow night", "tomorrow morning",
		"tomorrow", "tonight", "this morning", "this afternoon", "this evening", "today", "now", "later",
	})

	locationPreps = map[string]bool{"in": true, "near": true, "at": true, "for": true, "around": true}
	locationStop  = map[string]bool{
		"today": true, "tonight": true, "tomorrow": true, "this": true, "next": true, "now": true,
		"right": true, "later": true, "and": true, "then": true, "please": true, "the": true,
		"weekend": true, "morning": true, "afternoon": true, "evening": true, "me": true,
	}

	teams = compileAll([]string{
		"red sox", "white sox", "ravens", "orioles", "commanders", "nationals", "capitals", "wizards",
		"steelers", "eagles", "cowboys", "giants", "jets", "patriots", "yankees", "mets", "phillies",
		"lakers", "celtics", "knicks", "warriors", "bulls", "cubs", "dodgers", "chiefs", "bills",
	})
	sportsInfo = []tagged{
		{regexp.MustCompile(`\b(?:score|scores|won|win|lost|final|result|results)\b`), "score"},
		{regexp.MustCompile(`\b(?:standings|record|rank|ranking)\b`), "standings"},
		{regexp.MustCompile(`\b(?:when|schedule|next game|play next|playing|kickoff|start time)\b`), "schedule"},
	}

	airportCodes = compileAll([]string{
		"bwi", "dca", "iad", "jfk", "lga", "ewr", "lax", "sfo", "ord", "atl", "dfw", "den", "sea",
		"bos", "phl", "mia", "clt", "mco",
	})
	upperCode    = regexp.MustCompile(`\b([A-Z]{3})\b`)
	flightNumber = regexp.MustCompile(`(?i)\b([a-z]{2})\s?(\d{1,4})\b`)
	notAirline   = map[string]bool{
		"in": true, "at": true, "on": true, "to": true, "is": true, "by": true, "of": true, "or": true,
		"an": true, "as": true, "it": true, "my": true, "me": true, "we": true, "up": true, "no": true,
		"so": true, "do": true, "go": true, "be": true, "if": true,
	}
	airportInfo = []tagged{
		{regexp.MustCompile(`\bgate\b`), "gate"},
		{regexp.MustCompile(`\b(?:status|on time|delayed|delay|delays|late|cancelled|canceled)\b`), "status"},
		{regexp.MustCompile(`\b(?:departures|departing|leaving)\b`), "departures"},
		{regexp.MustCompile(`\b(?:arrivals|arriving|landing|land)\b`), "arrivals"},
	}
)

// extractEntities runs the category-specific extractors. It always runs, whatever the confidence.
func extractEntities(snap *Snapshot, category models.Category, original, norm string) map[string]string {
	e := make(map[string]string)
	switch category {
	case models.CategoryControl:
		setTagged(e, "action", norm, controlActions)
		setIf(e, "device", earliestHit(norm, snap.deviceNouns))
		setIf(e, "room", firstHit(norm, rooms))
		if m := temperatureValue.FindStringSubmatch(norm); m != nil {
			e["temperature"] = m[1]
		} else if m := temperatureTo.FindStringSubmatch(norm); m != nil {
			e["temperature"] = m[1]
		}
		if m := brightnessValue.FindStringSubmatch(norm); m != nil {
			e["brightness"] = m[1]
		}
		setIf(e, "color", firstHit(norm, colors))
	case models.CategoryWeather:
		setIf(e, "timeframe", firstHit(norm, timeframes))
		setIf(e, "location", extractLocation(original))
	case models.CategorySports:
		setIf(e, "team", firstHit(norm, teams))
		setIf(e, "timeframe", firstHit(norm, timeframes))
		setTagged(e, "info_type", norm, sportsInfo)
	case models.CategoryAirports:
		if code := firstHit(norm, airportCodes); code != "" {
			e["airport_code"] = strings.ToUpper(code)
		} else if m := upperCode.FindStringSubmatch(original); m != nil {
			e["airport_code"] = m[1]
		}
		setIf(e, "flight_number", extractFlightNumber(original))
		setTagged(e, "info_type", norm, airportInfo)
	case models.CategoryTransit, models.CategoryFood, models.CategoryEvents,
		models.CategoryLocation, models.CategoryEmergency:
		setIf(e, "location", extractLocation(original))
		setIf(e, "timeframe", firstHit(norm, timeframes))
	}
	return e
}

func setIf(e map[string]string, key, value string) {
	if value != "" {
		e[key] = value
	}
}

func setTagged(e map[string]string, key, text string, options []tagged) {
	for _, t := range options {
		if t.re.MatchString(text) {
			e[key] = t.value
			return
		}
	}
}

// earliestHit returns the keyword matching closest to the start of text.
func earliestHit(text string, kws []keyword) string {
	best, bestPos := "", -1
	for _, kw := range kws {
		loc := kw.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if bestPos == -1 || loc[0] < bestPos || (loc[0] == bestPos && len(kw.text) > len(best)) {
			best, bestPos = kw.text, loc[0]
		}
	}
	return best
}

// extractLocation returns up to four words following a location preposition, keeping the
// casing of the original text.
func extractLocation(original string) string {
	words := strings.Fields(original)
	for i, w := range words {
		if !locationPreps[strings.ToLower(w)] {
			continue
		}
		var loc []string
		for _, next := range words[i+1:] {
			clean := strings.Trim(next, `.,!?;:"`)
			if clean == "" || len(loc) == 4 || locationStop[strings.ToLower(clean)] || !isLetter(clean[0]) {
				break
			}
			loc = append(loc, clean)
			if clean != next {
				break
			}
		}
		if len(loc) > 0 {
			return strings.Join(loc, " ")
		}
	}
	return ""
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func extractFlightNumber(original string) string {
	for _, m := range flightNumber.FindAllStringSubmatch(original, -1) {
		if notAirline[strings.ToLower(m[1])] {
			continue
		}
		return strings.ToUpper(m[1]) + m[2]
	}
	return ""
}
