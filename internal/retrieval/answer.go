package retrieval

import (
	"fmt"
	"strconv"
	"strings"

	"query-orchestrator/internal/models"
)

// Describe renders a one-sentence answer from a normalized payload, or "" when the payload
// does not carry enough to say anything.
func Describe(kind models.ServiceKind, normalized map[string]interface{}) string {
	switch kind {
	case models.ServiceWeather:
		return describeWeather(normalized)
	case models.ServiceSports:
		return describeSports(normalized)
	case models.ServiceAirports:
		return describeAirports(normalized)
	}
	return ""
}

func describeWeather(n map[string]interface{}) string {
	where := ""
	switch loc := n["location"].(type) {
	case string:
		where = loc
	case map[string]interface{}:
		where = firstText(loc, "name", "city")
	}
	suffix := "."
	if where != "" {
		suffix = " in " + where + "."
	}

	cur := asMap(n["current"])
	temp, cond := text(cur["temperature"]), text(cur["conditions"])
	switch {
	case temp != "" && cond != "":
		return fmt.Sprintf("It's %s°F and %s%s", temp, strings.ToLower(cond), suffix)
	case temp != "":
		return fmt.Sprintf("It's %s°F%s", temp, suffix)
	case cond != "":
		return fmt.Sprintf("Conditions are %s%s", strings.ToLower(cond), suffix)
	}

	if days := asSlice(n["forecast"]); len(days) > 0 {
		day := asMap(days[0])
		high, low := text(day["high"]), text(day["low"])
		if high != "" || low != "" {
			return strings.TrimSpace(fmt.Sprintf("Forecast: high %s°F, low %s°F%s", high, low, suffix))
		}
	}
	return ""
}

func describeSports(n map[string]interface{}) string {
	games := asSlice(n["games"])
	for _, g := range games {
		game := asMap(g)
		hs, as := text(game["home_score"]), text(game["away_score"])
		if hs == "" || as == "" {
			continue
		}
		out := fmt.Sprintf("%s %s, %s %s", text(game["home_team"]), hs, text(game["away_team"]), as)
		if status := text(game["status"]); status != "" {
			out += " (" + strings.ToLower(status) + ")"
		}
		return out + "."
	}
	if len(games) > 0 {
		game := asMap(games[0])
		out := fmt.Sprintf("%s at %s", text(game["away_team"]), text(game["home_team"]))
		if when := text(game["start_time"]); when != "" {
			out += ", " + when
		}
		return out + "."
	}
	if rows := asSlice(n["standings"]); len(rows) > 0 {
		row := asMap(rows[0])
		if team := text(row["team"]); team != "" {
			return fmt.Sprintf("%s is %s-%s.", team, orZero(text(row["wins"])), orZero(text(row["losses"])))
		}
	}
	return ""
}

func describeAirports(n map[string]interface{}) string {
	if flights := asSlice(n["flights"]); len(flights) > 0 {
		f := asMap(flights[0])
		number := text(f["flight_number"])
		if number != "" {
			out := fmt.Sprintf("Flight %s is %s", number, strings.ToLower(orDefault(text(f["status"]), "scheduled")))
			if dep := text(f["scheduled_departure"]); dep != "" {
				out += ", departing " + dep
			}
			if gate := text(f["gate"]); gate != "" {
				out += " from gate " + gate
			}
			return out + "."
		}
	}
	airport := asMap(n["airport"])
	if name := firstText(airport, "name", "code"); name != "" {
		status := firstText(airport, "delays", "status")
		if status == "" {
			return name + "."
		}
		return fmt.Sprintf("%s: %s.", name, strings.TrimSuffix(status, "."))
	}
	return ""
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

// text renders a scalar; whole floats print without a fraction.
func text(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', 1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func firstText(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s := text(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orZero(s string) string { return orDefault(s, "0") }
